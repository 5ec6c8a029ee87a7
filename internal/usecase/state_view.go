package usecase

import "sturdy-study/internal/domain"

// StateView is the JSON shape of the client state served on the admin endpoint.
type StateView struct {
	Identity string    `json:"identity"`
	Exam     ExamView  `json:"exam"`
	Tutor    TutorView `json:"tutor"`
	Chat     ChatView  `json:"chat"`
}

type ExamView struct {
	State       PollerState `json:"state"`
	JobID       string      `json:"job_id,omitempty"`
	DownloadURL string      `json:"download_url,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type TutorView struct {
	State   SessionState `json:"state"`
	Topic   string       `json:"topic,omitempty"`
	Turns   int          `json:"turns"`
	Pending bool         `json:"pending"`
}

type ChatView struct {
	Messages int  `json:"messages"`
	Pending  bool `json:"pending"`
}

// Views groups the controllers a StateView is read from. Nil members are reported empty.
type Views struct {
	Workspace *Workspace
	Poller    *JobPoller
	Tutor     *SessionController
	Chat      *ChatController
}

func (v Views) State() StateView {
	var out StateView
	if v.Workspace != nil {
		out.Identity = v.Workspace.Identity()
	}
	if v.Poller != nil {
		s := v.Poller.Snapshot()
		out.Exam.State = s.State
		if s.Job != nil {
			out.Exam.JobID = s.Job.ID
			out.Exam.DownloadURL = s.Job.DownloadURL
		}
		if s.Err != nil {
			out.Exam.Error = domain.Describe(s.Err, "")
		}
	}
	if v.Tutor != nil {
		s := v.Tutor.Snapshot()
		out.Tutor = TutorView{State: s.State, Topic: s.Topic, Turns: len(s.Transcript), Pending: s.Pending}
	}
	if v.Chat != nil {
		out.Chat = ChatView{Messages: len(v.Chat.Messages()), Pending: v.Chat.Pending()}
	}
	return out
}
