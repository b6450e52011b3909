package i18n

// ZhCNMessages 简体中文消息目录 / Simplified Chinese message catalog
var ZhCNMessages = map[string]string{
	// Session store
	"store.default_topic": "新的聊天",
	"store.bot_hello":     "有什么可以帮你的吗",
	"store.error":         "出错了，稍后重试吧",

	// Prompts issued by the summarizer / assembler
	"store.prompt.history":   "这是历史聊天总结作为前情提要：%s",
	"store.prompt.topic":     "使用四到五个字直接返回这句话的简要主题，不要解释、不要标点、不要语气词、不要多余文本，如果没有主题，请直接返回“闲聊”",
	"store.prompt.summarize": "简要总结一下对话内容，用作后续的上下文提示 prompt，控制在 200 字以内",

	// Thread turn status indicators
	"thread.queued":     "正在处理中... (排队中)",
	"thread.processing": "正在处理中... (处理中)",

	// Session list operations
	"home.delete_toast": "已删除会话",
	"home.revert":       "撤销",
}
