package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/wbrown/janus-reltree/reltree/annotations"
	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/ensemble"
	"github.com/wbrown/janus-reltree/reltree/eval"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/settings"
	"github.com/wbrown/janus-reltree/reltree/storage"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

// model is implemented by trees, forests and boosting models.
type model interface {
	eval.Predictor
	json.Marshaler
	Ranking(kind tree.Importance) tree.Ranking
}

// session is a loaded run: configuration, settings, facts and the
// examples of the target relation.
type session struct {
	*rootCmdConfig
	run      *settings.RunConfig
	settings *settings.Settings
	store    *relation.Store
	data     *dataset.Dataset
	handler  annotations.Handler
}

func warn(format string, a ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, "warning: "+format+"\n", a...)
}

// openSession reads the run file and the settings it names. With fromArchive
// the relations are read from the archive instead of the fact files.
func openSession(root *rootCmdConfig, fromArchive bool) (*session, error) {
	run, err := settings.LoadRunConfig(root.config)
	if err != nil {
		return nil, err
	}
	s := &session{rootCmdConfig: root, run: run}
	if root.verbose {
		s.handler = annotations.ConsoleHandler()
	}
	st, err := settings.ParseFile(run.Settings)
	if err != nil {
		annotations.NewCollector(s.handler).Add(annotations.Event{
			Name: annotations.ErrorSettings,
			Data: map[string]interface{}{"error": err.Error(), "source": run.Settings},
		})
		return nil, err
	}
	for _, w := range st.Warnings {
		warn("%s", w)
	}
	s.settings = st
	if fromArchive {
		err = s.loadArchive()
	} else {
		err = s.loadFacts()
	}
	if err != nil {
		return nil, err
	}
	s.reportRelations()
	r, ok := s.store.Relation(st.Target())
	if !ok {
		return nil, fmt.Errorf("%w: target %s", relation.ErrUnknownRelation, st.Target())
	}
	if s.data, err = dataset.FromRelation(r); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) loadFacts() error {
	s.store = relation.NewStore()
	if err := s.settings.Declare(s.store); err != nil {
		return err
	}
	if len(s.run.Facts) == 0 {
		return fmt.Errorf("%w: run config lists no fact files", settings.ErrMalformedSettings)
	}
	collector := annotations.NewCollector(s.handler)
	for _, path := range s.run.Facts {
		start := time.Now()
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening facts: %w", err)
		}
		n, err := relation.LoadFacts(f, s.store)
		f.Close()
		if err != nil {
			collector.AddTiming(annotations.ErrorFacts, start, map[string]interface{}{"error": err.Error()})
			return fmt.Errorf("%s: %w", path, err)
		}
		collector.AddTiming(annotations.FactsLoaded, start, map[string]interface{}{
			"facts":     n,
			"relations": s.store.Len(),
			"source":    path,
		})
	}
	return nil
}

func (s *session) loadArchive() error {
	a, err := s.openArchive()
	if err != nil {
		return err
	}
	defer a.Close()
	start := time.Now()
	store, n, err := a.LoadStore()
	if err != nil {
		return err
	}
	annotations.NewCollector(s.handler).AddTiming(annotations.FactsLoaded, start, map[string]interface{}{
		"facts":     n,
		"relations": store.Len(),
		"source":    s.run.Archive,
	})
	s.store = store
	return nil
}

// reportRelations emits an event for every relation with a join index.
func (s *session) reportRelations() {
	collector := annotations.NewCollector(s.handler)
	if !collector.Enabled() {
		return
	}
	for _, r := range s.store.Relations() {
		if !r.Indexed() {
			continue
		}
		collector.Add(annotations.Event{
			Name: annotations.RelationIndexed,
			Data: map[string]interface{}{
				"relation": r.Name(),
				"arity":    r.Arity(),
				"tuples":   r.Size(),
			},
		})
	}
}

func (s *session) openArchive() (*storage.Archive, error) {
	if s.run.Archive == "" {
		return nil, fmt.Errorf("%w: run config names no archive", settings.ErrMalformedSettings)
	}
	return storage.Open(s.run.Archive)
}

func (s *session) treeOptions() (tree.Options, error) {
	opts := tree.DefaultOptions()
	if err := s.settings.Apply(&opts, s.store); err != nil {
		return tree.Options{}, err
	}
	return s.run.TreeOptions(opts), nil
}

// fit grows the configured model type on data.
func (s *session) fit(ctx context.Context, data *dataset.Dataset) (model, error) {
	opts, err := s.treeOptions()
	if err != nil {
		return nil, err
	}
	switch s.run.Model.Type {
	case settings.ModelForest:
		fopts, err := s.run.ForestOptions(opts)
		if err != nil {
			return nil, err
		}
		return ensemble.GrowForest(ctx, s.store, data, fopts, s.handler)
	case settings.ModelBoosting:
		return ensemble.GrowBoosting(ctx, s.store, data, s.run.BoostingOptions(opts), s.handler)
	}
	b, err := tree.NewBuilder(s.store, opts, s.handler)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, data)
}

// modelFile is the JSON layout of a model written with --output.
type modelFile struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

func decodeModel(kind string, data []byte, store *relation.Store) (model, error) {
	switch kind {
	case settings.ModelTree:
		return tree.Decode(data, store)
	case settings.ModelForest:
		return ensemble.DecodeForest(data, store)
	case settings.ModelBoosting:
		return ensemble.DecodeBoosting(data, store)
	}
	return nil, fmt.Errorf("%w: unknown model kind %q", tree.ErrMalformedModel, kind)
}

// loadModel reads a model from path, or from the archive under the run's
// model name when path is empty.
func (s *session) loadModel(path string) (model, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading model: %w", err)
		}
		var f modelFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", tree.ErrMalformedModel, err)
		}
		return decodeModel(f.Kind, f.Model, s.store)
	}
	a, err := s.openArchive()
	if err != nil {
		return nil, err
	}
	defer a.Close()
	kind, data, err := a.Model(s.run.Model.Name)
	if err != nil {
		return nil, err
	}
	return decodeModel(kind, data, s.store)
}

func (s *session) saveModel(m model, path string) error {
	if path != "" {
		data, err := m.MarshalJSON()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(modelFile{Kind: s.run.Model.Type, Model: data}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("writing model: %w", err)
		}
		s.Logf("Wrote %s to %s", s.run.Model.Type, path)
	}
	if s.run.Archive == "" {
		return nil
	}
	a, err := s.openArchive()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.PutModel(s.run.Model.Name, s.run.Model.Type, m); err != nil {
		return err
	}
	s.Logf("Stored %s %s in %s", s.run.Model.Type, s.run.Model.Name, s.run.Archive)
	return nil
}
