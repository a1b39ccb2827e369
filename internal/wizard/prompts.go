package wizard

const (
	promptDateNew = "Welcome! 🌿 Let me gather your birth details so I can give you personalized cosmic guidance.\n\n" +
		"📅 Step 1 of 3\n\nWhat's your date of birth?\n\nPlease enter in format: YYYY-MM-DD\nExample: 1990-01-15"

	promptDateUpdate = "✨ Let's update your birth details!\n\n" +
		"📅 Step 1 of 3\n\nWhat's your date of birth?\n\nPlease enter in format: YYYY-MM-DD\nExample: 1990-01-15"

	promptTime = "✅ Got it! %s\n\n🕐 Step 2 of 3\n\nWhat time were you born?\n\n" +
		"Please enter in 24-hour format: HH:MM\nExample: 14:30 (for 2:30 PM)\nExample: 09:15 (for 9:15 AM)"

	promptPlace = "✅ Perfect! %s\n\n📍 Step 3 of 3\n\nWhere were you born?\n\n" +
		"Please enter: City, Region/State\nExample: New Delhi, India"

	promptDone = "🎉 All Set!\n\n📅 Date of Birth: %s\n🕐 Time of Birth: %s\n📍 Place of Birth: %s\n\n" +
		"Thanks for sharing your details! I'm ready to give you personalized cosmic guidance. What would you like to know? 🌿✨"

	promptUpdated = "✅ Birth Details Updated!\n\n📅 Date of Birth: %s\n🕐 Time of Birth: %s\n📍 Place of Birth: %s\n\n" +
		"Your cosmic profile has been refreshed! What would you like to know? 🌟"

	promptCancelled = "Cancelled! You can start again anytime with /change 🌿"

	promptNothingToCancel = "There is nothing to cancel right now 🌿"

	promptExpired = "Sorry, I lost track of the details you entered earlier. Let's start again.\n\n"

	reasonDateFormat = "❌ Invalid format! Please use YYYY-MM-DD\n\nExample: 1990-01-15"
	reasonDateValue  = "❌ That doesn't look like a valid date. Please check and try again.\n\nExample: 1990-01-15"
	reasonDateFuture = "❌ Your date of birth can't be in the future. Please check and try again.\n\nExample: 1990-01-15"
	reasonTimeFormat = "❌ Invalid format! Please use HH:MM (24-hour format)\n\nExample: 14:30 or 09:15"
	reasonTimeValue  = "❌ That doesn't look like a valid time. Please check and try again.\n\nExample: 14:30 or 09:15"
	reasonPlaceEmpty = "❌ Please tell me where you were born.\n\nExample: Mumbai, Maharashtra"
)
