package models

const (
	ContextSeparator   = "-----\n\n"
	VisionPromptPrefix = "Please answer me in English. "

	// speech gateway status for a recognised utterance
	SpeechSuccessStatus = 20000000
)

// Display strings rendered by the chat and upload controls.
const (
	MsgTooManyFiles         = "Please provide only one file."
	MsgFileNotExist         = "The file does not exist."
	MsgUnsupportedFile      = "Unsupported file format."
	MsgNoFileUploaded       = "No file was uploaded."
	MsgUnsupportedKnowledge = "Unsupported file format: %s"
	MsgKnowledgeUploaded    = "Successfully uploaded and processed the knowledge document."
	MsgErrorOccurred        = "An error occurred: %s"
)

var (
	QueryPromptTemplate = `Context: %s

Question: %s`
)
