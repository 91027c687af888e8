package httpcore

import (
	"github.com/athq/go-httpcore/internal/transaction"
)

// Transaction drives one request/response exchange over an
// established channel; it is handed to the HTTP layer as both the
// schedulable and the executable view of the request.
type Transaction = transaction.Transaction

type Executor = transaction.Executor
type Scheduler = transaction.Scheduler

type RequestBody = transaction.RequestBody
type BodySource = transaction.BodySource

var (
	NoBody        = transaction.NoBody
	BufferedBody  = transaction.BufferedBody
	StreamingBody = transaction.StreamingBody
)

type Response = transaction.Response
type ResponseHead = transaction.ResponseHead
