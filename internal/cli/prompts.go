package cli

import (
	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/models"
)

// validateTicker is the survey form of graph.SanitizeTicker.
func validateTicker(val interface{}) error {
	s, _ := val.(string)
	_, err := graph.SanitizeTicker(s)
	return err
}

// PromptForIdentity asks for whatever part of the request the flags left
// empty.
func PromptForIdentity(ticker, duration, direction string) (models.Identity, error) {
	if ticker == "" {
		prompt := &survey.Input{
			Message: "Ticker symbol (e.g. AAPL, BRK.B):",
			Help:    "One to five letters with an optional class suffix",
		}
		if err := survey.AskOne(prompt, &ticker, survey.WithValidator(validateTicker)); err != nil {
			return models.Identity{}, err
		}
	}
	if duration == "" {
		prompt := &survey.Select{
			Message: "Trade duration:",
			Options: []string{string(consts.DurationShort), string(consts.DurationMedium), string(consts.DurationLong)},
			Default: string(consts.DurationMedium),
		}
		if err := survey.AskOne(prompt, &duration); err != nil {
			return models.Identity{}, err
		}
	}
	if direction == "" {
		prompt := &survey.Select{
			Message: "Trade direction:",
			Options: []string{string(consts.DirectionLong), string(consts.DirectionShort)},
			Default: string(consts.DirectionLong),
		}
		if err := survey.AskOne(prompt, &direction); err != nil {
			return models.Identity{}, err
		}
	}
	return graph.ParseIdentity(ticker, duration, direction)
}
