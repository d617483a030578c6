package cli

import (
	"encoding/json"

	"github.com/neuraldrift/neuraldrift/internal/client"
	"github.com/neuraldrift/neuraldrift/internal/config"
	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/server"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

// backend is what the commands run against: the daemon when it is up,
// otherwise the files on disk.
type backend interface {
	Learn(c ledger.Claim) (ledger.LearnResult, error)
	Recall(topic string, opts ledger.RecallOpts) ([]ledger.Entry, error)
	RecallAll(opts ledger.RecallOpts) ([]ledger.Entry, error)
	Search(keyword string, limit int) ([]ledger.Entry, error)
	Verify(topic, substring string, confidence *int) (ledger.Fact, error)
	Forget(topic, substring string) (ledger.Fact, error)
	WarmUp(topic string) (ledger.WarmUpResult, error)
	Heatmap() ([]ledger.TopicHeat, error)
	ColdSpots(threshold float64) ([]ledger.ColdSpot, error)
	Level() (ledger.LevelInfo, error)
	Stats() (ledger.Stats, error)
	Topics() ([]ledger.TopicSummary, error)
	Associate(text string) ([]ledger.Association, error)
	Muse(note string, tags []string) (*ledger.LevelEvent, error)
	Musings(tag string) ([]ledger.SoftNote, error)
	Context() (string, error)

	PlanStart(name string, objectives []string) (*session.Plan, error)
	Checkpoint(objective string, status session.Status, data json.RawMessage) (*session.Plan, error)
	PlanComplete() (*session.Plan, error)
	Plan() (*session.Plan, error)
	Agent(id, name, task string, status session.AgentStatus) error
	AgentDone(id, result string) error
	Resume() (session.Report, error)
	SessionSummary() (session.Summary, error)

	Close() error
}

// openBackend prefers a healthy daemon unless --local is set.
func openBackend() (backend, error) {
	if !flagLocal {
		c := client.New(cfg.SocketPath())
		if c.Healthy() {
			log.Debug().Str("socket", cfg.SocketPath()).Msg("using daemon")
			return c, nil
		}
		c.Close()
	}
	return openLocal(cfg)
}

// local runs operations directly on the ledger and session files.
type local struct {
	ledger  *ledger.Ledger
	session *session.Session
}

func openLocal(cfg config.Config) (*local, error) {
	l, err := ledger.Open(cfg.LedgerPath(), ledger.Options{
		Ledger:      &cfg.Ledger,
		Temperature: &cfg.Temperature,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	s := session.Open(cfg.SessionPath(), session.Options{
		LedgerPath: cfg.LedgerPath(),
		Config:     &cfg.Session,
		Log:        log,
	})
	return &local{ledger: l, session: s}, nil
}

func (b *local) Learn(c ledger.Claim) (ledger.LearnResult, error) {
	return b.ledger.Learn(c)
}

func (b *local) Recall(topic string, opts ledger.RecallOpts) ([]ledger.Entry, error) {
	return b.ledger.RecallEntries(topic, opts), nil
}

func (b *local) RecallAll(opts ledger.RecallOpts) ([]ledger.Entry, error) {
	return b.ledger.RecallAll(opts), nil
}

func (b *local) Search(keyword string, limit int) ([]ledger.Entry, error) {
	return b.ledger.Search(keyword, limit), nil
}

func (b *local) Verify(topic, substring string, confidence *int) (ledger.Fact, error) {
	return b.ledger.Verify(topic, substring, confidence)
}

func (b *local) Forget(topic, substring string) (ledger.Fact, error) {
	return b.ledger.Forget(topic, substring)
}

func (b *local) WarmUp(topic string) (ledger.WarmUpResult, error) {
	return b.ledger.WarmUp(topic)
}

func (b *local) Heatmap() ([]ledger.TopicHeat, error) {
	return b.ledger.Heatmap(), nil
}

func (b *local) ColdSpots(threshold float64) ([]ledger.ColdSpot, error) {
	return b.ledger.ColdSpots(threshold), nil
}

func (b *local) Level() (ledger.LevelInfo, error) {
	return b.ledger.LevelInfo(), nil
}

func (b *local) Stats() (ledger.Stats, error) {
	return b.ledger.Stats(), nil
}

func (b *local) Topics() ([]ledger.TopicSummary, error) {
	return b.ledger.Topics(), nil
}

func (b *local) Musings(tag string) ([]ledger.SoftNote, error) {
	return b.ledger.Musings(tag), nil
}

func (b *local) Associate(text string) ([]ledger.Association, error) {
	return b.ledger.Associate(text), nil
}

func (b *local) Muse(note string, tags []string) (*ledger.LevelEvent, error) {
	return b.ledger.Muse(note, tags)
}

func (b *local) Context() (string, error) {
	return server.BuildContext(b.ledger, b.session), nil
}

func (b *local) PlanStart(name string, objectives []string) (*session.Plan, error) {
	return b.session.PlanStart(name, objectives)
}

func (b *local) Checkpoint(objective string, status session.Status, data json.RawMessage) (*session.Plan, error) {
	var payload any
	if len(data) > 0 {
		payload = data
	}
	if err := b.session.Checkpoint(objective, status, payload); err != nil {
		return nil, err
	}
	return b.session.Plan(), nil
}

func (b *local) PlanComplete() (*session.Plan, error) {
	if err := b.session.PlanComplete(); err != nil {
		return nil, err
	}
	return b.session.Plan(), nil
}

func (b *local) Plan() (*session.Plan, error) {
	p := b.session.Plan()
	if p == nil {
		return nil, session.ErrNoPlan
	}
	return p, nil
}

func (b *local) Agent(id, name, task string, status session.AgentStatus) error {
	return b.session.AgentSnapshot(id, name, task, status)
}

func (b *local) AgentDone(id, result string) error {
	return b.session.AgentDone(id, result)
}

func (b *local) Resume() (session.Report, error) {
	return b.session.ResumeCheck(), nil
}

func (b *local) SessionSummary() (session.Summary, error) {
	return b.session.Summary(), nil
}

func (b *local) Close() error {
	return nil
}
