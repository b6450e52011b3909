package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// Session store
	"store.default_topic": "New Conversation",
	"store.bot_hello":     "Hello! How can I assist you today?",
	"store.error":         "Oops, something went wrong. Please try again later.",

	// Prompts issued by the summarizer / assembler
	"store.prompt.history":   "This is a summary of the chat history as a recap: %s",
	"store.prompt.topic":     "Summarize the conversation into a title of 10 words or fewer. Reply with the title only, without punctuation, quotation marks or extra text.",
	"store.prompt.summarize": "Summarize the discussion briefly in 200 words or less to use as a prompt for future context.",

	// Thread turn status indicators
	"thread.queued":     "Processing... (queued)",
	"thread.processing": "Processing... (in progress)",

	// Session list operations
	"home.delete_toast": "Session deleted",
	"home.revert":       "Undo",
}
