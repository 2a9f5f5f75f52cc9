package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mkowalczyk/taxflow/internal/collaborators"
	"github.com/mkowalczyk/taxflow/internal/engine"
	"github.com/mkowalczyk/taxflow/pkg/taxflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	taxflow.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	invoicing := collaborators.LocalInvoicing{}
	gateway := collaborators.LocalKsefGateway{}

	app, err := taxflow.Start(ctx, taxflow.Dependencies{
		Collaborators: engine.Collaborators{
			Invoices:     invoicing,
			Validator:    invoicing,
			Submitter:    gateway,
			Upo:          gateway,
			Nip:          collaborators.LocalRegistry{},
			Declarations: collaborators.LocalCalculator{},
		},
		Access:   collaborators.OpenAccess{},
		Audit:    collaborators.LogAudit{},
		Failures: collaborators.LogFailures{},
		Notifier: collaborators.LogNotifier{},
	})
	if err != nil {
		slog.Error("Engine exited with error", "error", err)
		return
	}
	defer app.Close()

	<-ctx.Done()
	slog.Info("Shutting down")
}
