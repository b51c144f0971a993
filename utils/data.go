package utils

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"
)

// Record is one dataset row: a fixed-point feature vector and a binary label.
type Record struct {
	Features []int64
	Label    int64
}

// LoadDataset reads a CSV file whose columns are feature_0..feature_{d-1},label.
// The first row is treated as a header and skipped. Feature values are floats
// in the file and converted to fixed point; labels are integers.
func LoadDataset(filename string) ([]Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	var records []Record
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("line %d: need at least one feature and a label", i+1)
		}

		features := make([]int64, len(row)-1)
		for j := 0; j < len(row)-1; j++ {
			f, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid feature at line %d column %d: %w", i+1, j+1, err)
			}
			features[j] = FloatToFixed(f)
		}

		label, err := strconv.ParseInt(row[len(row)-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid label at line %d: %w", i+1, err)
		}

		records = append(records, Record{Features: features, Label: label})
	}

	return records, nil
}

// SyntheticDataset generates a deterministic dataset for simulations and tests:
// features uniform in [-1, 1] (fixed point), label 1 iff the feature sum is
// positive. The same seed always produces the same records.
func SyntheticDataset(n, dim int, seed int64) []Record {
	rng := rand.New(rand.NewSource(seed))

	records := make([]Record, n)
	for i := range records {
		features := make([]int64, dim)
		var sum int64
		for j := range features {
			features[j] = FloatToFixed(rng.Float64()*2 - 1)
			sum += features[j]
		}
		var label int64
		if sum > 0 {
			label = 1
		}
		records[i] = Record{Features: features, Label: label}
	}
	return records
}
