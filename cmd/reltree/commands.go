package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wbrown/janus-reltree/reltree/dataset"
	"github.com/wbrown/janus-reltree/reltree/ensemble"
	"github.com/wbrown/janus-reltree/reltree/eval"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/tree"
)

var heading = color.New(color.Bold)

func importCmd(root *rootCmdConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Load the fact files of a run into its archive",
		Long:  `Parse the settings and fact files named by the run file and store the relations in the Badger archive, replacing relations of the same name.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, false)
			if err != nil {
				return err
			}
			a, err := s.openArchive()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.PutStore(s.store); err != nil {
				return err
			}
			heading.Fprintf(cmd.OutOrStdout(), "Imported into %s\n\n", s.run.Archive)
			fmt.Fprintln(cmd.OutOrStdout(), relation.FormatSummary(s.store))
			return nil
		},
	}
}

type growCmdConfig struct {
	*rootCmdConfig
	output      string
	fromArchive bool
}

func growCmd(root *rootCmdConfig) *cobra.Command {
	config := &growCmdConfig{rootCmdConfig: root}
	cmd := &cobra.Command{
		Use:   "grow",
		Short: "Grow the model described by the run file",
		Long:  `Grow a tree, forest or boosting model on every example of the target relation, print it and store it in the archive and/or an output file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, config.fromArchive)
			if err != nil {
				return err
			}
			s.Logf("Growing %s for %s from %d examples ...", s.run.Model.Type, s.data.Target, s.data.Len())
			m, err := s.fit(cmd.Context(), s.data)
			if err != nil {
				return fmt.Errorf("growing the model: %w", err)
			}
			describe(cmd, m)
			return s.saveModel(m, config.output)
		},
	}
	cmd.Flags().StringVarP(&config.output, "output", "o", "", "path to a JSON file the model is written to")
	cmd.Flags().BoolVar(&config.fromArchive, "from-archive", false, "read relations from the archive instead of the fact files")
	return cmd
}

func describe(cmd *cobra.Command, m model) {
	w := cmd.OutOrStdout()
	switch v := m.(type) {
	case *tree.Tree:
		heading.Fprintf(w, "Tree with %d nodes, depth %d\n", v.Size(), v.Depth())
		fmt.Fprint(w, v.String())
	case *ensemble.Forest:
		heading.Fprintf(w, "Forest of %d trees, %s voting\n", len(v.Trees), v.Voting)
	case *ensemble.Boosting:
		heading.Fprintf(w, "Boosting with %s, %d stages\n", v.Loss, len(v.Stages))
	}
}

type modelCmdConfig struct {
	*rootCmdConfig
	model       string
	fromArchive bool
}

func (c *modelCmdConfig) flags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.model, "model", "m", "", "path to a model written by grow --output (defaults to the archived model of the run)")
	cmd.Flags().BoolVar(&c.fromArchive, "from-archive", false, "read relations from the archive instead of the fact files")
}

func predictCmd(root *rootCmdConfig) *cobra.Command {
	config := &modelCmdConfig{rootCmdConfig: root}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the label of every example of the target relation",
		Long:  `Apply a stored model to the examples of the target relation and print the label and the prediction of each, followed by the metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, config.fromArchive)
			if err != nil {
				return err
			}
			m, err := s.loadModel(config.model)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range s.data.Examples {
				got, err := m.Predict(e.Descriptive)
				if err != nil {
					return fmt.Errorf("example %s: %w", e.Descriptive, err)
				}
				fmt.Fprintf(w, "%s%s\t%v\t%v\n", s.data.Target, e.Descriptive, e.Target, got)
			}
			fmt.Fprintln(w)
			metrics, err := eval.Evaluate(m, s.data)
			if err != nil {
				return err
			}
			eval.WriteReport(w, "Predictions", metrics)
			return nil
		},
	}
	config.flags(cmd)
	return cmd
}

func evalCmd(root *rootCmdConfig) *cobra.Command {
	var fromArchive bool
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Cross-validate the model described by the run file",
		Long:  `Partition the examples into the configured number of folds and report the metrics of each fold and of all folds pooled.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(root, fromArchive)
			if err != nil {
				return err
			}
			s.Logf("Cross-validating %s with %d folds ...", s.run.Model.Type, s.run.Eval.Folds)
			cv, err := eval.CrossValidate(cmd.Context(), s.data, s.run.Eval.Folds, s.run.Eval.Seed, func(ctx context.Context, train *dataset.Dataset) (eval.Predictor, error) {
				return s.fit(ctx, train)
			})
			if err != nil {
				return err
			}
			eval.WriteCrossValidation(cmd.OutOrStdout(), cv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromArchive, "from-archive", false, "read relations from the archive instead of the fact files")
	return cmd
}

type rankCmdConfig struct {
	modelCmdConfig
	importance string
	grow       bool
}

func rankCmd(root *rootCmdConfig) *cobra.Command {
	config := &rankCmdConfig{modelCmdConfig: modelCmdConfig{rootCmdConfig: root}}
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank the attributes, relations and aggregators a model uses",
		Long:  `Compute feature importances of a stored model, or of a freshly grown one with --grow, and print them as markdown tables.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := tree.ParseImportance(config.importance)
			if err != nil {
				return err
			}
			s, err := openSession(root, config.fromArchive)
			if err != nil {
				return err
			}
			var m model
			if config.grow {
				m, err = s.fit(cmd.Context(), s.data)
			} else {
				m, err = s.loadModel(config.model)
			}
			if err != nil {
				return err
			}
			heading.Fprintf(cmd.OutOrStdout(), "%s ranking\n\n", kind)
			fmt.Fprint(cmd.OutOrStdout(), tree.FormatRanking(m.Ranking(kind)))
			return nil
		},
	}
	config.flags(cmd)
	cmd.Flags().StringVarP(&config.importance, "importance", "i", tree.Genie3.String(), "importance measure: GENIE3 or SYMBOLIC")
	cmd.Flags().BoolVar(&config.grow, "grow", false, "grow the model instead of loading it")
	return cmd
}
