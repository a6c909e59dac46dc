package cmd

import (
	"context"
	"sync"

	"github.com/canvasart/tracker/cmd/util"
	cisync "github.com/canvasart/tracker/sync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Start sync service to ingest confirmed chain event data into db",
	Run:   startSyncService,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func startSyncService(*cobra.Command, []string) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	storeCtx := util.MustInitStoreContext()
	defer storeCtx.Close()

	syncCtx := util.MustInitSyncContext(storeCtx)
	defer syncCtx.Close()

	logrus.Info("Starting to sync block event data into db...")
	syncer := cisync.MustNewBlockSyncerFromViper(syncCtx.SyncEth, syncCtx.DB)
	go syncer.Sync(ctx, &wg)

	util.GracefulShutdown(&wg, cancel)
}
