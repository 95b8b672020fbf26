package main

import (
	"fmt"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var (
	sendCommand = cli.Command{
		Name:   "send",
		Usage:  "Send a payment, queued until the ledger is reachable",
		Action: sendAction,
		Flags:  []cli.Flag{&toFlag, &amountFlag, &assetFlag, &memoFlag, &passwordFlag},
	}

	drainCommand = cli.Command{
		Name:   "drain",
		Usage:  "Submit the queued payments",
		Action: drainAction,
		Flags:  []cli.Flag{&passwordFlag},
	}

	queueCommand = cli.Command{
		Name:   "queue",
		Usage:  "Shows the queued payments",
		Action: queueAction,
		Flags:  []cli.Flag{&statusFlag, &pruneFlag},
	}
)

func sendAction(ctx *cli.Context) error {
	if err := unlock(ctx); err != nil {
		return err
	}

	outcome, err := cfg.SyncEngine().Submit(ctx.Context, domain.TransactionRequest{
		Destination: ctx.String("to"),
		Asset:       ctx.String("asset"),
		Amount:      ctx.Uint64("amount"),
		Memo:        ctx.String("memo"),
	})
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"status":     outcome.Status,
		"id":         outcome.Transaction.Id,
		"tx_hash":    outcome.Transaction.TxHash,
		"attempts":   outcome.Transaction.Attempts,
		"last_error": outcome.Transaction.LastError,
	})
}

func drainAction(ctx *cli.Context) error {
	if !cfg.Monitor().IsOnline() {
		return fmt.Errorf("ledger unreachable, nothing submitted")
	}
	if err := unlock(ctx); err != nil {
		return err
	}

	engine := cfg.SyncEngine()
	if err := engine.Drain(ctx.Context); err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, status := range []domain.QueuedTxStatus{
		domain.QueuedTxPending, domain.QueuedTxSubmitting, domain.QueuedTxFailed,
	} {
		txs, err := engine.ListTransactions(ctx.Context, status)
		if err != nil {
			return err
		}
		counts[string(status)] = len(txs)
	}
	return printJSON(counts)
}

func queueAction(ctx *cli.Context) error {
	engine := cfg.SyncEngine()

	if olderThan := ctx.Duration("prune"); olderThan > 0 {
		count, err := engine.PruneConfirmed(ctx.Context, olderThan)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"pruned": count})
	}

	status := domain.QueuedTxStatus(ctx.String("status"))
	if !status.IsValid() {
		return fmt.Errorf("invalid status %s", status)
	}
	txs, err := engine.ListTransactions(ctx.Context, status)
	if err != nil {
		return err
	}

	list := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		list = append(list, map[string]interface{}{
			"id":          tx.Id,
			"destination": tx.Payload.Destination,
			"asset":       tx.Payload.Asset,
			"amount":      tx.Payload.Amount,
			"memo":        tx.Payload.Memo,
			"enqueued_at": tx.EnqueuedAt.Unix(),
			"status":      tx.Status,
			"attempts":    tx.Attempts,
			"tx_hash":     tx.TxHash,
			"last_error":  tx.LastError,
		})
	}
	return printJSON(list)
}
