package astrology

// Topic names double as the tool names the model calls.
type Topic string

const (
	Today            Topic = "today_prediction"
	Weekly           Topic = "weekly_prediction"
	CurrentMonth     Topic = "current_month_prediction"
	Quarterly        Topic = "quarterly_prediction"
	Yearly           Topic = "yearly_prediction"
	Love             Topic = "love_prediction"
	Career           Topic = "career_prediction"
	Wealth           Topic = "wealth_prediction"
	Health           Topic = "health_prediction"
	Wildcard         Topic = "wildcard_prediction"
	DailyHoroscope   Topic = "daily_horoscope"
	WeeklyHoroscope  Topic = "weekly_horoscope"
	MonthlyHoroscope Topic = "monthly_horoscope"
)

// Args says which optional Query fields a topic takes.
type Args int

const (
	NoArgs Args = iota
	DateRange
	Event // Question required, SpecificDate optional
)

type TopicSpec struct {
	Topic       Topic
	Path        string
	Description string
	Args        Args
}

var Topics = []TopicSpec{
	{Today, "/predictions/today", "Today's astrological prediction. Use when the user asks about today, right now or immediate daily guidance.", NoArgs},
	{Weekly, "/predictions/week", "This week's (7-day) prediction. Use when the user asks about this week or the next 7 days.", NoArgs},
	{CurrentMonth, "/predictions/current-month", "This month's prediction. Use when the user asks about this month or currently.", NoArgs},
	{Quarterly, "/predictions/quarter", "This quarter's (3-month) prediction. Use when the user asks about this quarter or the next 3 months.", NoArgs},
	{Yearly, "/predictions/yearly", "12-month prediction. Use when the user asks about this year or the next 12 months.", NoArgs},
	{Love, "/predictions/love", "Love and relationship prediction. Use for love, relationships or marriage.", DateRange},
	{Career, "/predictions/career", "Career and job prediction. Use for career, job or promotion.", DateRange},
	{Wealth, "/predictions/wealth", "Wealth and money prediction. Use for money, wealth or finances.", DateRange},
	{Health, "/predictions/health", "Health and wellness prediction. Use for health or wellness.", DateRange},
	{Wildcard, "/predictions/wildcard", "Prediction for a specific event or question, e.g. a job interview on Dec 15th or buying a motorcycle on Nov 5th.", Event},
	{DailyHoroscope, "/horoscope/daily", "Daily horoscope by moon sign. Use for general daily horoscope requests.", NoArgs},
	{WeeklyHoroscope, "/horoscope/weekly", "Weekly horoscope. Use for general weekly horoscope requests.", NoArgs},
	{MonthlyHoroscope, "/horoscope/monthly", "Monthly horoscope. Use for general monthly horoscope requests.", NoArgs},
}

func Lookup(t Topic) (TopicSpec, bool) {
	for _, s := range Topics {
		if s.Topic == t {
			return s, true
		}
	}
	return TopicSpec{}, false
}
