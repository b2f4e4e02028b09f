package main

import (
	"fmt"
	"strings"

	"github.com/tajiricircle/tajiri/service/fraud"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/tajiricircle/tajiri/service/sms"
	"github.com/urfave/cli/v2"
)

func parseSMSCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse and fraud-score an SMS without touching any service",
		ArgsUsage: "TEXT",
		Description: `Run the SMS parser and the fraud scorer locally.

Example:
  tajiri sms parse "QK12ABC345 Confirmed. You have received Ksh1,500.00 from JOHN DOE" --sender MPESA`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "SMS sender ID or number",
			},
			&cli.StringFlag{
				Name:    "rules",
				Usage:   "Path to a JSON fraud rule set",
				EnvVars: []string{"FRAUD_RULES_PATH"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("sms text is required")
			}
			text := strings.Join(c.Args().Slice(), " ")

			rules := fraud.DefaultRuleSet()
			if path := c.String("rules"); path != "" {
				loaded, err := fraud.LoadRuleSet(path)
				if err != nil {
					return err
				}
				rules = loaded
			}
			scorer, err := fraud.NewScorer(rules)
			if err != nil {
				return fmt.Errorf("invalid fraud rules: %w", err)
			}

			analysis := pipeline.Analysis{
				Parsed:     sms.NewParser(sms.DefaultConfig()).Parse(text),
				Assessment: scorer.Score(text, c.String("sender")),
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, analysis)
			}
			printAnalysis(c, analysis)
			return nil
		},
	}
}

func printAnalysis(c *cli.Context, a pipeline.Analysis) {
	w := c.App.Writer
	p := a.Parsed
	if p.IsTransaction() {
		fmt.Fprintf(w, "Amount:        %s %s\n", p.Amount.String(), p.Currency)
	} else {
		fmt.Fprintf(w, "Amount:        (none, not a transaction)\n")
	}
	fmt.Fprintf(w, "Direction:     %s\n", p.Direction)
	fmt.Fprintf(w, "Counterparty:  %s\n", optional(p.Counterparty))
	fmt.Fprintf(w, "Reference:     %s\n", optional(p.Reference))
	fmt.Fprintf(w, "Category:      %s\n", p.Category)
	fmt.Fprintf(w, "Description:   %s\n", p.Description)

	as := a.Assessment
	fmt.Fprintf(w, "\nRisk Level:    %s\n", as.RiskLevel)
	fmt.Fprintf(w, "Score:         %.2f\n", as.Score)
	if len(as.MatchedRules) > 0 {
		fmt.Fprintf(w, "Matched Rules: %s\n", strings.Join(as.MatchedRules, ", "))
	}
	for _, r := range as.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}
