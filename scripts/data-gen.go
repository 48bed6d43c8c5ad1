/*
	Basic Script that churns a random tree through a running server to
	exercise block reuse, then asks the server to check the store.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/hierdb"
	"golang.org/x/sync/errgroup"
)

const (
	concurrency = 6

	// Fixed universe per worker
	totalNames  = 60
	totalValues = 100
	subdirs     = 4

	// Per-cycle behavior
	putsPerCycle    = 20
	removesPerCycle = 10
	cyclesPerWorker = 500

	sleepBetweenCycles = 10 * time.Millisecond

	progressEvery = 100
)

func main() {
	start := time.Now()
	fmt.Println("Starting hierdb tree churn generator")

	names := makeNames(totalNames)
	values := makeValues(totalValues)

	eg, ctx := errgroup.WithContext(context.Background())

	for i := 0; i < concurrency; i++ {
		i := i
		eg.Go(func() error {
			return runWorker(ctx, i, names, values)
		})
	}

	if err := eg.Wait(); err != nil {
		fmt.Println("Load failed:", err)
		return
	}
	fmt.Printf("Load finished in %v\n", time.Since(start))

	client, err := hierdb.Connect()
	if err != nil {
		fmt.Println("connect error:", err)
		return
	}
	defer client.Close()

	if err := client.Check(); err != nil {
		fmt.Println("Consistency check failed:", err)
		return
	}

	info, err := client.Info()
	if err != nil {
		fmt.Println("info error:", err)
		return
	}
	fmt.Println("Consistency check passed")
	fmt.Println(info)
}

func runWorker(ctx context.Context, id int, names []string, values []string) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	client, err := hierdb.Connect()
	if err != nil {
		return fmt.Errorf("[worker %d] connect: %w", id, err)
	}
	defer client.Close()

	root := fmt.Sprintf("worker-%d", id)
	if err := enterDir(client, root); err != nil {
		return fmt.Errorf("[worker %d] enter %s: %w", id, root, err)
	}

	for cycle := 1; cycle <= cyclesPerWorker; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil
		}

		dir := fmt.Sprintf("dir-%d", rng.Intn(subdirs))
		if err := enterDir(client, dir); err != nil {
			return fmt.Errorf("[worker %d] enter %s: %w", id, dir, err)
		}

		// ---- WRITE / OVERWRITE PHASE ----
		for i := 0; i < putsPerCycle; i++ {
			name := names[rng.Intn(len(names))]
			val := values[rng.Intn(len(values))]

			if err := client.Put(name, []byte(val)); err != nil {
				return fmt.Errorf("[worker %d] put: %w", id, err)
			}
		}

		// ---- REMOVE PHASE ----
		for i := 0; i < removesPerCycle; i++ {
			name := names[rng.Intn(len(names))]

			if err := client.Remove(name); err != nil && !errors.Is(err, hierdb.ErrNil) {
				return fmt.Errorf("[worker %d] rm: %w", id, err)
			}
		}

		if err := client.ChDir(".."); err != nil {
			return fmt.Errorf("[worker %d] cd ..: %w", id, err)
		}

		// ---- PRUNE PHASE (empties and drops a whole directory) ----
		if rng.Intn(10) == 0 {
			if err := pruneDir(client, dir); err != nil {
				return fmt.Errorf("[worker %d] prune %s: %w", id, dir, err)
			}
		}

		if cycle%progressEvery == 0 {
			fmt.Printf("[worker %d] completed %d cycles\n", id, cycle)
		}

		if sleepBetweenCycles > 0 {
			time.Sleep(sleepBetweenCycles)
		}
	}

	return nil
}

func enterDir(client *hierdb.Client, dir string) error {
	err := client.ChDir(dir)
	if errors.Is(err, hierdb.ErrNil) {
		if err := client.Mkdir(dir); err != nil {
			return err
		}
		err = client.ChDir(dir)
	}
	return err
}

func pruneDir(client *hierdb.Client, dir string) error {
	if err := client.ChDir(dir); err != nil {
		return err
	}

	names, err := client.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := client.Remove(name); err != nil {
			return err
		}
	}

	if err := client.ChDir(".."); err != nil {
		return err
	}
	return client.RemoveDir(dir)
}

func makeNames(n int) []string {
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("file-%03d", i)
	}
	return names
}

func makeValues(n int) []string {
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = fmt.Sprintf("value-%03d-%s", i, string(make([]byte, (i%8)*512)))
	}
	return values
}
