package datasource

import (
	"math/rand"
	"time"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/corelog"
)

// checkIfErrorIsRecoverableAndLog logs an HTTP or transport error at the
// appropriate level and reports whether the caller should keep retrying,
// using the Stream/Polling recoverability rule (408 and 429 retry).
func checkIfErrorIsRecoverableAndLog(
	loggers *corelog.Loggers,
	errorDesc, errorContext string,
	statusCode int,
	recoverableMessage string,
) bool {
	return checkRecoverableAndLog(loggers, errorDesc, errorContext, statusCode, recoverableMessage, internal.IsHTTPErrorRecoverable)
}

// checkFetchErrorIsRecoverableAndLog is the Fetch-path counterpart: only
// 429 retries among 4xx, per IsFetchErrorRecoverable.
func checkFetchErrorIsRecoverableAndLog(
	loggers *corelog.Loggers,
	errorDesc, errorContext string,
	statusCode int,
	recoverableMessage string,
) bool {
	return checkRecoverableAndLog(loggers, errorDesc, errorContext, statusCode, recoverableMessage, internal.IsFetchErrorRecoverable)
}

func checkRecoverableAndLog(
	loggers *corelog.Loggers,
	errorDesc, errorContext string,
	statusCode int,
	recoverableMessage string,
	isRecoverable func(int) bool,
) bool {
	recoverable := statusCode == 0 || isRecoverable(statusCode)
	if loggers == nil {
		return recoverable
	}
	if !recoverable {
		loggers.Errorf("error %s (giving up permanently): %s", errorContext, errorDesc)
		return false
	}
	loggers.Warnf("error %s (%s): %s", errorContext, recoverableMessage, errorDesc)
	return true
}

// streamBackoff computes the stream reconnect delay:
// min(1000 * 2^(retryCount-2), 60000) + uniform(0, 1000) ms, with
// retryCount == 1 treated as zero delay.
func streamBackoff(retryCount int) time.Duration {
	if retryCount <= 1 {
		return jitter(0, 1000)
	}
	backoffMs := 1000 * (1 << uint(retryCount-2))
	if backoffMs > 60000 {
		backoffMs = 60000
	}
	return time.Duration(backoffMs)*time.Millisecond + jitter(0, 1000)
}

// fetchBackoff computes the one-shot fetch retry delay:
// 500 * 2^attempt + uniform(0, 500) ms.
func fetchBackoff(attempt int) time.Duration {
	backoffMs := 500 * (1 << uint(attempt))
	return time.Duration(backoffMs)*time.Millisecond + jitter(0, 500)
}

func jitter(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+rand.Intn(maxMs-minMs)) * time.Millisecond
}
