package main

import (
	"context"

	"github.com/lumenwallet/custody/internal/core/application"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var scheduleCommand = cli.Command{
	Name:  "schedule",
	Usage: "Manage scheduled payments",
	Subcommands: []*cli.Command{
		{
			Name:   "add",
			Usage:  "Schedule a one-off or recurring payment",
			Action: scheduleAddAction,
			Flags: []cli.Flag{
				&toFlag, &amountFlag, &assetFlag, &memoFlag, &frequencyFlag,
				&executeAtFlag, &endAtFlag, &passwordFlag,
			},
		},
		{
			Name:   "list",
			Usage:  "Shows the scheduled payments of the wallet",
			Action: scheduleListAction,
		},
		{
			Name:   "cancel",
			Usage:  "Cancel a pending scheduled payment",
			Action: scheduleCancelAction,
			Flags:  []cli.Flag{&idFlag},
		},
		{
			Name:   "pause",
			Usage:  "Keep a pending scheduled payment from running",
			Action: schedulePauseAction,
			Flags:  []cli.Flag{&idFlag},
		},
		{
			Name:   "resume",
			Usage:  "Resume a paused scheduled payment",
			Action: scheduleResumeAction,
			Flags:  []cli.Flag{&idFlag},
		},
	},
}

func scheduleAddAction(ctx *cli.Context) error {
	svc, err := cfg.ScheduleService()
	if err != nil {
		return err
	}
	if err := unlock(ctx); err != nil {
		return err
	}

	req := application.ScheduleRequest{
		Recipient: ctx.String("to"),
		Asset:     ctx.String("asset"),
		Amount:    ctx.Uint64("amount"),
		Memo:      ctx.String("memo"),
		Frequency: ctx.String("frequency"),
		ExecuteAt: *ctx.Timestamp("at"),
	}
	if endAt := ctx.Timestamp("until"); endAt != nil {
		req.EndAt = *endAt
	}

	payment, err := svc.Create(ctx.Context, req)
	if err != nil {
		return err
	}
	return printJSON(scheduledPaymentInfo(*payment))
}

func scheduleListAction(ctx *cli.Context) error {
	svc, err := cfg.ScheduleService()
	if err != nil {
		return err
	}
	owner, err := cfg.Wallet().PublicKey(ctx.Context)
	if err != nil {
		return err
	}

	payments, err := svc.List(ctx.Context, owner)
	if err != nil {
		return err
	}
	list := make([]map[string]interface{}, 0, len(payments))
	for _, p := range payments {
		list = append(list, scheduledPaymentInfo(p))
	}
	return printJSON(list)
}

func scheduleCancelAction(ctx *cli.Context) error {
	return withOwnedSchedule(ctx, (*application.ScheduleService).Cancel)
}

func schedulePauseAction(ctx *cli.Context) error {
	return withOwnedSchedule(ctx, (*application.ScheduleService).Pause)
}

func scheduleResumeAction(ctx *cli.Context) error {
	return withOwnedSchedule(ctx, (*application.ScheduleService).Resume)
}

func withOwnedSchedule(
	ctx *cli.Context,
	action func(*application.ScheduleService, context.Context, string, string) error,
) error {
	svc, err := cfg.ScheduleService()
	if err != nil {
		return err
	}
	owner, err := cfg.Wallet().PublicKey(ctx.Context)
	if err != nil {
		return err
	}
	return action(svc, ctx.Context, ctx.String("id"), owner)
}

func scheduledPaymentInfo(p domain.ScheduledPayment) map[string]interface{} {
	info := map[string]interface{}{
		"id":          p.Id,
		"recipient":   p.Recipient,
		"asset":       p.Asset,
		"amount":      p.Amount,
		"memo":        p.Memo,
		"frequency":   p.Frequency,
		"execute_at":  p.ExecuteAt.Unix(),
		"occurrence":  p.Occurrence,
		"status":      p.Status,
		"tx_hash":     p.TxHash,
		"last_error":  p.LastError,
		"previous_id": p.PreviousId,
	}
	if !p.EndAt.IsZero() {
		info["end_at"] = p.EndAt.Unix()
	}
	return info
}
