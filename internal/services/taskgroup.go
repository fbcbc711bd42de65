package services

import "sync"

// RunAll runs every task concurrently and waits for all of them. Unlike an
// errgroup, a failing task never cancels its siblings: each compensating
// action must get its chance to run, and the caller inspects the full error
// slice afterwards. errs[i] belongs to tasks[i].
func RunAll(tasks []func() error) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task func() error) {
			defer wg.Done()
			errs[i] = task()
		}(i, task)
	}
	wg.Wait()
	return errs
}

// FirstError returns the first non-nil error from a RunAll result.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CountErrors reports how many tasks failed.
func CountErrors(errs []error) int {
	count := 0
	for _, err := range errs {
		if err != nil {
			count++
		}
	}
	return count
}
