package model

// QuizQuestion is one multiple-choice question embedded in a chat reply.
type QuizQuestion struct {
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// ChatMessage is one entry of the free-form course chat.
// Quiz is set only when the reply carried a quiz that decoded cleanly.
type ChatMessage struct {
	Speaker Speaker
	Content string
	Quiz    *Quiz
}

func (m ChatMessage) IsQuiz() bool { return m.Quiz != nil }

// ChatReply mirrors the /chat response: either an answer or a quiz (or neither).
type ChatReply struct {
	Answer   string `json:"answer"`
	Quiz     string `json:"quiz"`
	Identity string `json:"user_id"`
	Question string `json:"question"`
}

const NoReplyText = "I'm sorry, I couldn't generate a response. Please try again."

// UploadResult reports how many chunks the service indexed from a source.
type UploadResult struct {
	Filename       string `json:"filename"`
	Message        string `json:"message"`
	DocumentsAdded int    `json:"documents_added"`
}

type UploadKind string

const (
	UploadPDF   UploadKind = "pdf"
	UploadAudio UploadKind = "audio"
)
