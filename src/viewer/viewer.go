// Package viewer is a desktop window that follows an answer server.
package viewer

import (
	"context"
	"log"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"screen-quiz-llm/src/answer"
)

type Viewer struct {
	app    fyne.App
	win    fyne.Window
	status *widget.Label
	body   *widget.RichText
	scroll *container.Scroll
}

func New(title string) *Viewer {
	a := app.New()
	w := a.NewWindow(title)

	status := widget.NewLabel(stateText(answer.StateConnecting))
	body := widget.NewRichTextFromMarkdown("")
	body.Wrapping = fyne.TextWrapWord
	scroll := container.NewVScroll(body)

	w.SetContent(container.NewBorder(status, nil, nil, nil, scroll))
	w.Resize(fyne.NewSize(420, 640))
	return &Viewer{app: a, win: w, status: status, body: body, scroll: scroll}
}

// Run follows client until the window is closed or ctx is done.
func (v *Viewer) Run(ctx context.Context, client *answer.Client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client.OnState = func(s answer.State) {
		fyne.Do(func() { v.status.SetText(stateText(s)) })
	}
	go func() {
		if err := client.Run(ctx, v.show); err != nil && ctx.Err() == nil {
			log.Printf("viewer: client stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		fyne.Do(v.app.Quit)
	}()

	v.win.ShowAndRun()
}

func (v *Viewer) show(m answer.Message) {
	status, markdown, replace := present(m)
	fyne.Do(func() {
		v.status.SetText(status)
		if replace {
			v.body.ParseMarkdown(markdown)
			v.scroll.ScrollToTop()
		}
	})
}

// present maps a message to the status line and, when replace is set, the new
// body.
func present(m answer.Message) (status, markdown string, replace bool) {
	switch m.Status {
	case answer.StatusProcessing:
		return "New question detected, analyzing...", "", true
	case answer.StatusSuccess:
		return "Answer ready", m.Content, true
	default:
		// Raw text is shown verbatim inside a code block.
		return "Answer ready", "```\n" + m.Content + "\n```", true
	}
}

func stateText(s answer.State) string {
	switch s {
	case answer.StateConnecting:
		return "Connecting to server..."
	case answer.StateConnected:
		return "Connected, waiting for a question..."
	default:
		return "Disconnected, reconnecting..."
	}
}
