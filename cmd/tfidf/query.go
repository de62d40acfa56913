package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/stages"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/store"
)

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "look up stored scores by word or document",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "job", Value: "latest", Usage: "job id"},
			&cli.StringFlag{Name: "word", Usage: "list the documents weighted for this word"},
			&cli.StringFlag{Name: "doc", Usage: "list the top terms of this document"},
			&cli.IntFlag{Name: "limit", Value: 10},
		},
		Action: queryAction,
	}
}

type queryResult struct {
	Job    store.Job      `yaml:"job"`
	Word   string         `yaml:"word,omitempty"`
	DocID  string         `yaml:"doc_id,omitempty"`
	Scores []stages.Score `yaml:"scores"`
}

func queryAction(c *cli.Context) error {
	word, doc := c.String("word"), c.String("doc")
	if (word == "") == (doc == "") {
		return fmt.Errorf("exactly one of --word or --doc is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	if st == nil {
		return fmt.Errorf("query needs a store backend, got %q", cfg.Store.Backend)
	}
	defer st.Close()

	var job store.Job
	if id := c.String("job"); id == "latest" {
		job, err = st.LatestJob(ctx)
	} else {
		job, err = st.Job(ctx, id)
	}
	if err != nil {
		return err
	}

	res := queryResult{Job: job, Word: word, DocID: doc}
	if word != "" {
		res.Scores, err = st.ScoresForWord(ctx, job.ID, word, c.Int("limit"))
	} else {
		res.Scores, err = st.TopTerms(ctx, job.ID, doc, c.Int("limit"))
	}
	if err != nil {
		return err
	}
	return yaml.NewEncoder(os.Stdout).Encode(res)
}
