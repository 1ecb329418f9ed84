package i18n

// loadEnglishMessages loads the English translations.
func loadEnglishMessages() {
	messages[LangEN] = map[string]string{
		// Application
		"app.name":        "mesura",
		"app.description": "Conversational assistant for measurement system analysis",
		"app.version":     "mesura v%s",

		// Error codes
		"error.validation":      "The request is not valid. Please review the submitted data.",
		"error.validation.long": "The message exceeds the %d character limit.",
		"error.unauthorized":    "You need to sign in to continue.",
		"error.rate_limit":      "Too many requests to the assistant. Try again in a few seconds.",
		"error.timeout":         "The assistant took too long to respond. Please try again.",
		"error.unavailable":     "The assistant is unavailable right now. Please try again later.",
		"error.network":         "There was a connection problem. Check your network and try again.",
		"error.internal":        "An internal error occurred. Please try again later.",
		"error.file_validation": "The file has format errors. Review the details and try again.",

		// Chat turn copy
		"chat.file_placeholder": "[File attached for analysis]",
		"chat.rejection": "Sorry, I can only help with measurement system analysis topics: " +
			"Gage R&R, bias, linearity, stability and the interpretation of your data. " +
			"Do you have a question about your measurements?",
		"chat.cut_short": "\n\n[The response was cut short before completing.]",
		"chat.fallback": "The analysis completed successfully. You can see the results " +
			"and the chart in the results panel.",
	}
}
