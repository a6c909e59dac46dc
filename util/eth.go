package util

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	providers "github.com/openweb3/go-rpc-provider/provider_wrapper"
	"github.com/openweb3/web3go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// MustNewEthClientFromViper creates an instance of ETH client or panic on error.
func MustNewEthClientFromViper() *web3go.Client {
	nodeUrl := viper.GetString("eth.http")
	return MustNewEthClient(nodeUrl)
}

// MustNewEthClient creates an instance of ETH client or panic on error.
func MustNewEthClient(url string) *web3go.Client {
	retryCount := viper.GetInt("eth.retry")
	retryInterval := viper.GetDuration("eth.retryInterval")
	requestTimeout := viper.GetDuration("eth.requestTimeout")

	return MustNewEthClientWithRetry(url, retryCount, retryInterval, requestTimeout)
}

func MustNewEthClientWithRetry(
	url string, retry int, retryInterval, requestTimeout time.Duration,
) *web3go.Client {
	eth, err := web3go.NewClientWithOption(url, web3go.ClientOption{
		Option: providers.Option{
			RetryCount:     retry,
			RetryInterval:  retryInterval,
			RequestTimeout: requestTimeout,
		},
	})

	if err != nil {
		logrus.WithField("url", url).WithError(err).Fatal("Failed to create ETH client")
	}

	return eth
}

// HookEthRpcMetricsMiddleware hooks call metrics middleware for the specified
// ETH client.
func HookEthRpcMetricsMiddleware(eth *web3go.Client) {
	mp := providers.NewMiddlewarableProvider(eth.Provider())
	mp.HookCallContext(callEthRpcMetricsMiddleware)
	eth.SetProvider(mp)
}

func callEthRpcMetricsMiddleware(f providers.CallContextFunc) providers.CallContextFunc {
	metricFn := func(ctx context.Context, resultPtr interface{}, method string, args ...interface{}) error {
		start := time.Now()

		err := f(ctx, resultPtr, method, args...)

		var metricKey string
		if err != nil {
			metricKey = fmt.Sprintf("tracker/duration/eth/rpc/call/%v/error", method)
		} else {
			metricKey = fmt.Sprintf("tracker/duration/eth/rpc/call/%v/success", method)
		}

		metricTimer := metrics.GetOrRegisterTimer(metricKey, nil)
		metricTimer.UpdateSince(start)

		return err
	}

	return metricFn
}
