package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sturdy-study/internal/domain"
	"sturdy-study/internal/domain/model"
	"sturdy-study/internal/usecase"

	"github.com/spf13/cobra"
)

var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

type appFunc func() *application

func (a *application) requireIdentity() error {
	if a.identity == "" {
		return domain.NewValidationError("identity", "set identity.user and identity.course, or pass --identity/--course")
	}
	return nil
}

func examCmd(app appFunc) *cobra.Command {
	var count int
	var wait bool
	cmd := &cobra.Command{
		Use:   "exam",
		Short: "Generate a PDF exam and poll until it is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				return a.runExam(ctx, count, wait)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "questions", "n", model.DefaultExamQuestions, "number of questions (1-50)")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the exam is ready")
	return cmd
}

func (a *application) runExam(ctx context.Context, count int, wait bool) error {
	job, err := a.poller.Start(ctx, model.ExamRequest{Identity: a.identity, QuestionCount: count})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exam job %s: %s\n", job.ID, job.Status)
	if !wait {
		return nil
	}

	snap, err := a.poller.Wait(ctx)
	if err != nil {
		a.poller.Stop()
		return err
	}
	switch snap.State {
	case usecase.PollerComplete:
		fmt.Fprintf(stdout, "exam ready: %s\n", a.downloadURL(snap.Job))
		return nil
	case usecase.PollerError:
		return snap.Err
	default:
		return nil
	}
}

func (a *application) downloadURL(job *model.ExamJob) string {
	if job == nil || job.DownloadURL == "" {
		return ""
	}
	if strings.HasPrefix(job.DownloadURL, "http://") || strings.HasPrefix(job.DownloadURL, "https://") {
		return job.DownloadURL
	}
	return strings.TrimRight(a.cfg.API.DownloadBaseURL, "/") + job.DownloadURL
}

func examStatusCmd(app appFunc) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "exam-status",
		Short: "Show the last exam job recorded for the identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app().runExamStatus(cmd.Context(), forget)
		},
	}
	cmd.Flags().BoolVar(&forget, "clear", false, "forget the recorded job")
	return cmd
}

func (a *application) runExamStatus(ctx context.Context, forget bool) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	if forget {
		if err := a.poller.ForgetLastJob(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "exam record cleared for", a.identity)
		return nil
	}
	job, err := a.poller.LastJob(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintln(stdout, "no exam recorded for", a.identity)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusComplete {
		fmt.Fprintf(stdout, "exam %s complete: %s\n", job.ID, a.downloadURL(job))
		return nil
	}
	fmt.Fprintf(stdout, "exam %s %s: %s\n", job.ID, job.Status, domain.Describe(job.Err(), job.Error))
	return nil
}

// lines streams input lines until EOF or ctx is done.
func lines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func tutorCmd(app appFunc) *cobra.Command {
	var topic string
	var resume bool
	cmd := &cobra.Command{
		Use:   "tutor",
		Short: "Guided tutoring session; one utterance per line, /end to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				return a.runTutor(ctx, topic, resume, stdin)
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to study")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue the stored session instead of starting a new one")
	return cmd
}

func (a *application) runTutor(ctx context.Context, topic string, resume bool, in io.Reader) error {
	printed := 0
	flush := func() {
		snap := a.tutor.Snapshot()
		for _, t := range snap.Transcript[printed:] {
			if t.Speaker == model.SpeakerAssistant {
				fmt.Fprintf(stdout, "tutor> %s\n", t.Text)
			}
		}
		printed = len(snap.Transcript)
	}

	resumed := false
	if resume {
		ok, err := a.tutor.Resume(ctx)
		if err != nil {
			return err
		}
		resumed = ok
	}
	if !resumed {
		if err := a.tutor.Begin(ctx, topic); err != nil {
			return err
		}
	}
	flush()

	for line := range lines(ctx, in) {
		if strings.TrimSpace(line) == "/end" {
			a.tutor.End()
			return nil
		}
		if _, err := a.tutor.Submit(ctx, line); err != nil {
			a.log.Debug().Err(err).Msg("exchange failed")
		}
		flush()
	}
	return ctx.Err()
}

func chatCmd(app appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Course Q&A; one question per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				return a.runChat(ctx, stdin)
			})
		},
	}
}

func (a *application) runChat(ctx context.Context, in io.Reader) error {
	if err := a.requireIdentity(); err != nil {
		return err
	}
	printed := 0
	for line := range lines(ctx, in) {
		if _, err := a.chat.Ask(ctx, line); err != nil {
			a.log.Debug().Err(err).Msg("chat failed")
		}
		msgs := a.chat.Messages()
		for _, m := range msgs[printed:] {
			if m.Speaker != model.SpeakerAssistant {
				continue
			}
			if m.IsQuiz() {
				printQuiz(stdout, m.Quiz)
				continue
			}
			fmt.Fprintf(stdout, "assistant> %s\n", m.Content)
		}
		printed = len(msgs)
	}
	return ctx.Err()
}

func printQuiz(w io.Writer, q *model.Quiz) {
	for i, question := range q.Questions {
		fmt.Fprintf(w, "Q%d. %s\n", i+1, question.QuestionText)
		for j, opt := range question.Options {
			fmt.Fprintf(w, "   %c) %s\n", rune('a'+j), opt)
		}
		if question.CorrectAnswer != "" {
			fmt.Fprintf(w, "   answer: %s\n", question.CorrectAnswer)
		}
	}
}

func searchCmd(app appFunc) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search practice problems on a topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			if strings.TrimSpace(topic) == "" {
				return domain.NewValidationError("topic", "Please enter a topic to search")
			}
			if err := a.requireIdentity(); err != nil {
				return err
			}
			return printResult(a.svc.FindProblems(cmd.Context(), a.identity, topic))
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to search practice problems for")
	return cmd
}

func prioritizeCmd(app appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "prioritize",
		Short: "List course topics by study priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			if err := a.requireIdentity(); err != nil {
				return err
			}
			return printResult(a.svc.PrioritizeTopics(cmd.Context(), a.identity))
		},
	}
}

func mapCmd(app appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Print the course concept map in DOT format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			if err := a.requireIdentity(); err != nil {
				return err
			}
			return printResult(a.svc.GenerateMap(cmd.Context(), a.identity))
		},
	}
}

func printResult(out string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, out)
	return nil
}

func youtubeCmd(app appFunc) *cobra.Command {
	var videoURL string
	cmd := &cobra.Command{
		Use:   "youtube",
		Short: "Index the transcript of a YouTube lecture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			if strings.TrimSpace(videoURL) == "" {
				return domain.NewValidationError("url", "Please enter a YouTube URL")
			}
			if err := a.requireIdentity(); err != nil {
				return err
			}
			res, err := a.svc.ProcessYouTube(cmd.Context(), a.identity, videoURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s (%d documents added)\n", res.Message, res.DocumentsAdded)
			return nil
		},
	}
	cmd.Flags().StringVar(&videoURL, "url", "", "YouTube video URL")
	return cmd
}

func uploadCmd(app appFunc) *cobra.Command {
	var audio bool
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Index course materials (PDF by default)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			return a.serve(cmd.Context(), func(ctx context.Context) error {
				return a.runUpload(ctx, args, audio)
			})
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", false, "files are audio lectures")
	return cmd
}

func (a *application) runUpload(ctx context.Context, paths []string, audio bool) error {
	kind := model.UploadPDF
	if audio {
		kind = model.UploadAudio
	}

	sources := make([]usecase.Source, 0, len(paths))
	for _, path := range paths {
		path := path
		sources = append(sources, usecase.Source{
			Name: filepath.Base(path),
			Kind: kind,
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}

	results, err := a.ingestor.Upload(ctx, a.identity, sources)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(stdout, "%s: error: %s\n", r.Name, domain.Describe(r.Err, "upload failed"))
			continue
		}
		fmt.Fprintf(stdout, "%s: %s (%d documents added)\n", r.Name, r.Result.Message, r.Result.DocumentsAdded)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(results))
	}
	return nil
}
