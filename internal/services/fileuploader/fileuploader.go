package fileuploader

import (
	"context"
	"sync"

	"github.com/gammazero/workerpool"
)

// Uploader bounds how many uploads run at once across all requests.
type Uploader struct {
	wp *workerpool.WorkerPool
}

func NewFileUploader(maxWorkers int) *Uploader {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return &Uploader{wp: workerpool.New(maxWorkers)}
}

func (u *Uploader) Stop() {
	u.wp.StopWait()
}

type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run submits upload for every input to the pool and waits for all of
// them. Results come back in input order; one input failing does not stop
// the others.
func Run[In, Out any](ctx context.Context, u *Uploader, inputs []In, upload func(context.Context, In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(inputs))

	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		i, input := i, input

		u.wp.Submit(func() {
			defer wg.Done()

			results[i].Index = i
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return
			}

			results[i].Value, results[i].Err = upload(ctx, input)
		})
	}
	wg.Wait()

	return results
}
