package simulation

import (
	"log"
	"time"
)

// RunAnimated narrates a round without generating real proofs. Useful for
// demos: the real pipeline takes minutes of proving time per client.
func RunAnimated(numClients int, latency time.Duration) {
	log.Println("=== ZK Federated Learning Round (animated, no real proofs) ===")
	log.Printf("Participants: %d clients + 1 coordinator\n", numClients)
	log.Printf("Simulated latency: %v per message\n\n", latency)

	log.Println("=== Phase 1: Setup ===")
	log.Println("Coordinator: compiling/loading predicates...")
	log.Println("  - Balance predicate (dataset group counts)")
	log.Println("  - Training predicate (gradient + clipping)")
	log.Println("  - SecAgg predicate (pairwise masking)")
	time.Sleep(latency)
	log.Println("Coordinator -> Clients: verifying keys distributed")
	time.Sleep(latency)

	log.Println("\n=== Phase 2: Client pipelines (parallel) ===")
	for c := 1; c <= numClients; c++ {
		log.Printf("[Client %d] committing dataset, root_D published\n", c)
		time.Sleep(latency / 4)
		log.Printf("[Client %d] balance proof sent\n", c)
		time.Sleep(latency / 4)
		log.Printf("[Client %d] gradient recomputed, clipped, training proof sent\n", c)
		time.Sleep(latency / 4)
		log.Printf("[Client %d] masked update + secagg proof sent\n", c)
		time.Sleep(latency / 4)
	}

	log.Println("\n=== Phase 3: Coordinator verification ===")
	for c := 1; c <= numClients; c++ {
		log.Printf("[Client %d] balance verified, binding checked, secagg verified\n", c)
		time.Sleep(latency / 4)
	}

	log.Println("\n=== Phase 4: Aggregation ===")
	log.Println("Coordinator: summing masked updates mod p...")
	time.Sleep(latency)
	log.Println("Masks cancel pairwise; aggregate equals the raw gradient sum.")
	log.Println("\nRound complete.")
}
