package i18n

// loadSpanishMessages loads all Spanish translations. Spanish is the
// product's primary language: these strings are what end users see.
func loadSpanishMessages() {
	messages[LangES] = map[string]string{
		// Application
		"app.name":        "mesura",
		"app.description": "Asistente conversacional para análisis de sistemas de medición",
		"app.version":     "mesura v%s",

		// Error codes (user-facing, selected by the error classifier)
		"error.validation":      "La solicitud no es válida. Revisa los datos enviados.",
		"error.validation.long": "El mensaje supera el límite de %d caracteres.",
		"error.unauthorized":    "Necesitas iniciar sesión para continuar.",
		"error.rate_limit":      "Demasiadas solicitudes al asistente. Intenta de nuevo en unos segundos.",
		"error.timeout":         "El asistente tardó demasiado en responder. Intenta de nuevo.",
		"error.unavailable":     "El asistente no está disponible en este momento. Intenta más tarde.",
		"error.network":         "Hubo un problema de conexión. Verifica tu red e intenta de nuevo.",
		"error.internal":        "Ocurrió un error interno. Intenta de nuevo más tarde.",
		"error.file_validation": "El archivo tiene errores de formato. Revisa los detalles e intenta de nuevo.",

		// Chat turn copy
		"chat.file_placeholder": "[Archivo adjunto para análisis]",
		"chat.rejection": "Lo siento, solo puedo ayudarte con temas de análisis de sistemas " +
			"de medición: Gage R&R, sesgo, linealidad, estabilidad y la interpretación " +
			"de tus datos. ¿Tienes alguna consulta sobre tus mediciones?",
		"chat.cut_short": "\n\n[La respuesta fue interrumpida antes de completarse.]",
		"chat.fallback": "El análisis se completó correctamente. Puedes ver los resultados " +
			"y la gráfica en el panel de resultados.",
	}
}
