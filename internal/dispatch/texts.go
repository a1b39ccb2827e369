package dispatch

const (
	textWelcomeBack = "Hey %s! 👋 Welcome back! 🌿\n\n" +
		"I've got your cosmic profile all set up. What would you like to know today?\n\n" +
		"You can ask me about today's energy, your week ahead, career, love, or anything else on your mind.\n\n" +
		"Need to update your details? Just type /change\n\nLet's see what the stars have to say! ✨"

	textHelp = "🌿 How to Use Rudie\n\n" +
		"Ask me about:\n" +
		"📅 Daily predictions - \"How's today?\"\n" +
		"📆 Weekly forecasts - \"What's my week like?\"\n" +
		"💼 Career guidance - \"Career outlook this month?\"\n" +
		"💕 Love insights - \"When should I propose?\"\n" +
		"💰 Wealth timing - \"Good time to invest?\"\n\n" +
		"Commands:\n" +
		"/start - Welcome & getting started\n" +
		"/help - Show this help message\n" +
		"/info - See your birth details\n" +
		"/change - Update birth details\n" +
		"/clear - Clear chat history\n" +
		"/cancel - Cancel current operation\n\n" +
		"Let the stars guide you! ✨"

	textInfo = "🌟 Your Birth Details\n\n📅 Date of Birth: %s\n🕐 Time of Birth: %s\n📍 Place of Birth: %s\n\n" +
		"Want to update them? Type /change"

	textNoInfo = "I don't have your birth details yet 🌿 Type /change and I'll guide you step by step."

	textCleared = "✨ Chat history cleared! We're starting fresh 🌿"

	textTryAgain = "Oops, I couldn't take your message just now 🌿 Please try again in a moment."

	textUnknownCommand = "Hmm, I don't know that command 🤔 Type /help to see what I can do."
)
