package util

import (
	"github.com/canvasart/tracker/store/mysql"
	"github.com/canvasart/tracker/util"
	"github.com/openweb3/web3go"
)

// StoreContext context to hold store instances
type StoreContext struct {
	DB *mysql.MysqlStore
}

func MustInitStoreContext() StoreContext {
	return StoreContext{
		DB: mysql.MustNewConfigFromViper().MustOpenOrCreate(),
	}
}

func (ctx *StoreContext) Close() {
	if ctx.DB != nil {
		ctx.DB.Close()
	}
}

// SyncContext context to hold sdk clients for blockchain interoperation.
type SyncContext struct {
	StoreContext

	SyncEth *web3go.Client
}

func MustInitSyncContext(storeCtx StoreContext) SyncContext {
	sc := SyncContext{StoreContext: storeCtx}
	sc.SyncEth = util.MustNewEthClientFromViper()
	util.HookEthRpcMetricsMiddleware(sc.SyncEth)

	return sc
}

func (ctx *SyncContext) Close() {
	if ctx.SyncEth != nil {
		ctx.SyncEth.Close()
	}
}
