package main

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/game"
	"github.com/renbarn/match-server/pkg/protocol"
	"github.com/renbarn/match-server/pkg/rating"
)

// archiveFinishedGames persists every settled game. Aborted games are
// archived with zero deltas; the result row is still useful for
// support queries.
func (app *application) archiveFinishedGames() {
	app.Publisher.Subscribe(events.EventSessionFinished, func(event events.Event) {
		finished, ok := event.Payload.(game.FinishedEvent)
		if !ok {
			app.Logger.Error("unexpected finished event payload type")
			return
		}

		rec := rating.Record{
			SessionID:  finished.SessionID,
			WhiteID:    finished.WhiteID,
			BlackID:    finished.BlackID,
			Result:     string(finished.Result.Outcome),
			Reason:     finished.Result.Reason,
			Moves:      finished.Moves,
			DeltaWhite: finished.Result.RatingDeltas[string(protocol.White)],
			DeltaBlack: finished.Result.RatingDeltas[string(protocol.Black)],
			StartedAt:  finished.StartedAt,
			FinishedAt: finished.FinishedAt,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := app.Store.SaveResult(ctx, rec); err != nil {
			app.Logger.Error("failed to archive game",
				zap.String("session_id", finished.SessionID),
				zap.Error(err))
		}
	})
}

func parseRating(s string) (int, error) {
	return strconv.Atoi(s)
}
