package mock

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/testview/backend/internal/collection"
	"github.com/testview/backend/internal/config"
	"github.com/testview/backend/internal/diff"
	"github.com/testview/backend/internal/registry"
)

// Publisher is where the generator's sessions send their flushed batches.
// The ws broadcaster satisfies it.
type Publisher interface {
	Publish(treeID int, batch diff.Batch)
}

// Generator populates the registry with synthetic test hierarchies and keeps
// them churning: label edits, invalidations, and case add/remove. Used by
// demo mode and manual testing.
type Generator struct {
	cfg config.MockConfig
	reg *registry.Registry
	pub Publisher

	sessions []*collection.Session
	suites   [][]*Item // per tree, the suite items
	nextCase int
}

func NewGenerator(cfg config.MockConfig, reg *registry.Registry, pub Publisher) *Generator {
	return &Generator{
		cfg: cfg,
		reg: reg,
		pub: pub,
	}
}

func (g *Generator) Start(ctx context.Context) {
	for t := 0; t < g.cfg.Trees; t++ {
		root := NewItem("root", fmt.Sprintf("workspace-%d", t+1), true)
		root.SetDiscoverDelay(g.cfg.DiscoverDelay)

		var suites []*Item
		for i := 0; i < g.cfg.Suites; i++ {
			suite := NewItem(fmt.Sprintf("suite-%d", i+1), fmt.Sprintf("Suite %d", i+1), true)
			suite.SetDiscoverDelay(g.cfg.DiscoverDelay)
			for j := 0; j < g.cfg.CasesPerSuite; j++ {
				id := fmt.Sprintf("suite-%d/case-%d", i+1, j+1)
				suite.AddHidden(NewItem(id, fmt.Sprintf("case %d", j+1), false))
			}
			root.AddHidden(suite)
			suites = append(suites, suite)
		}

		var sess *collection.Session
		publish := func(batch diff.Batch) {
			g.pub.Publish(sess.TreeID(), batch)
		}
		sess, _ = g.reg.CreateHierarchy(publish)

		if err := sess.AddRoot(root, "mock"); err != nil {
			log.Printf("mock: add root failed: %v", err)
			continue
		}
		// Kick off discovery of the whole synthetic tree.
		sess.Expand("root", -1)

		g.sessions = append(g.sessions, sess)
		g.suites = append(g.suites, suites)
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	interval := g.cfg.MutateInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			for _, sess := range g.sessions {
				sess.Dispose()
			}
			return
		case <-ticker.C:
			tick++
			g.mutate(tick)
		}
	}
}

func (g *Generator) mutate(tick int) {
	if len(g.suites) == 0 {
		return
	}
	suites := g.suites[rand.Intn(len(g.suites))]
	if len(suites) == 0 {
		return
	}
	suite := suites[rand.Intn(len(suites))]

	switch tick % 4 {
	case 0:
		suite.SetLabel(fmt.Sprintf("%s (run %d)", suite.Snapshot().ID, tick))
	case 1:
		suite.Invalidate()
	case 2:
		g.nextCase++
		id := fmt.Sprintf("%s/generated-%d", suite.Snapshot().ID, g.nextCase)
		suite.AddChild(NewItem(id, fmt.Sprintf("generated case %d", g.nextCase), false))
	case 3:
		children := suite.Children()
		if len(children) > 1 {
			suite.RemoveChild(children[len(children)-1].ID())
		}
	}
}
