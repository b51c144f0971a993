package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkfedlearn/zkfl/simulation"
)

func main() {
	animated := flag.Bool("animated", false, "Run animated simulation (fast, no real proofs)")
	latency := flag.Duration("latency", 100*time.Millisecond, "Simulated network latency")
	clients := flag.Int("clients", 3, "Number of federated clients")
	datasetSize := flag.Int("dataset", 8, "Records per client dataset")
	dim := flag.Int("dim", 4, "Model dimension")
	batch := flag.Int("batch", 4, "Training batch size")
	cacheDir := flag.String("cache", "data", "Predicate cache directory")
	flag.Parse()

	if *animated {
		simulation.RunAnimated(*clients, *latency)
		return
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("starting round with real proof generation (this takes a while; use -animated for a quick run)")

	net := simulation.NewNetwork(log, simulation.Params{
		Round:       1,
		NumClients:  *clients,
		DatasetSize: *datasetSize,
		Dim:         *dim,
		BatchSize:   *batch,
		TauSquared:  1 << 50,
		CacheDir:    *cacheDir,
	})
	if err := net.Setup(); err != nil {
		log.Fatal().Err(err).Msg("predicate setup failed")
	}

	_, included, err := net.RunRound(simulation.Scenario{})
	if err != nil {
		log.Fatal().Err(err).Msg("round failed")
	}
	log.Info().Ints64("clients", toInt64(included)).Msg("round aggregated")
}

func toInt64(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
