package main

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/geopool/geopool"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/gpu/soft"
	"github.com/vkngwrapper/geopool/mesh"
	"golang.org/x/exp/slog"
)

type churnOptions struct {
	Seed        int64
	Iterations  int
	MaxVertices int
	FlushEvery  int
	// CompactEvery runs a compaction pass every CompactEvery operations. Zero disables compaction.
	CompactEvery int
	NoCoalesce   bool
	Verify       bool
}

type churnResult struct {
	Registered   int
	Unregistered int
	Rejected     int
	Live         int
	Submissions  int
	Compaction   geopool.CompactionStats

	Pool      geopool.Statistics
	StatsJSON string
}

var (
	churn    churnOptions
	detailed bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "churn",
		Short: "Register and unregister random meshes and report fragmentation",
		Long: `The churn command registers and unregisters randomly sized meshes on a
software device. The same seed always produces the same sequence, so runs with
and without --no-coalesce can be compared directly.

Example:
  geopoolsim churn --iterations 10000 --seed 7
  geopoolsim churn --no-coalesce --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			result, err := runChurn(poolLogger(), config, churn)
			if err != nil {
				return err
			}

			return printChurnResult(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().Int64Var(&churn.Seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&churn.Iterations, "iterations", 5000, "Number of register or unregister operations")
	cmd.Flags().IntVar(&churn.MaxVertices, "max-vertices", 2048, "Largest generated mesh, in vertices")
	cmd.Flags().IntVar(&churn.FlushEvery, "flush-every", 64, "Operations between flushes")
	cmd.Flags().IntVar(&churn.CompactEvery, "compact-every", 0, "Operations between compaction passes (0 disables compaction)")
	cmd.Flags().BoolVar(&churn.NoCoalesce, "no-coalesce", false, "Do not merge adjacent free ranges")
	cmd.Flags().BoolVar(&churn.Verify, "verify", false, "Read back every mesh before it is unregistered")
	cmd.Flags().BoolVar(&detailed, "json", false, "Print the detailed pool statistics as JSON")
	rootCmd.AddCommand(cmd)
}

// randomMesh builds a triangle list of roughly vertexCount vertices whose content depends on id
func randomMesh(random *rand.Rand, id int, maxVertices int) *mesh.Data {
	vertexCount := 3 + random.Intn(maxVertices)
	indexCount := 3 * (vertexCount + random.Intn(vertexCount))

	positions := make([]float32, vertexCount*3)
	uvs := make([]float32, vertexCount*2)
	normals := make([]float32, vertexCount*3)
	for v := 0; v < vertexCount; v++ {
		positions[v*3] = float32(id)
		positions[v*3+1] = float32(v)
		positions[v*3+2] = random.Float32()
		uvs[v*2] = random.Float32()
		uvs[v*2+1] = random.Float32()
		normals[v*3+2] = 1
	}

	indices := make([]uint32, indexCount)
	for i := range indices {
		indices[i] = uint32(random.Intn(vertexCount))
	}

	return mesh.NewData(fmt.Sprintf("churn-%d", id), positions, uvs, normals, indices)
}

func runChurn(logger *slog.Logger, config geopool.Config, options churnOptions) (churnResult, error) {
	var result churnResult
	if options.MaxVertices <= 0 {
		return result, errors.Newf("max-vertices must be positive, but is %d", options.MaxVertices)
	}

	var flags geopool.CreateFlags
	if options.NoCoalesce {
		flags |= geopool.PoolCreateNoCoalesce
	}

	device := soft.NewDevice(soft.DeviceOptions{})
	pool, err := geopool.New(logger, device, geopool.CreateOptions{Flags: flags, Config: config})
	if err != nil {
		return result, err
	}

	random := rand.New(rand.NewSource(options.Seed))
	var live []*mesh.Data

	for i := 0; i < options.Iterations; i++ {
		// Lean toward registration until the pool starts rejecting meshes
		if len(live) > 0 && random.Intn(5) < 2 {
			index := random.Intn(len(live))
			m := live[index]

			if options.Verify {
				if err := verifyMesh(pool, m); err != nil {
					return result, err
				}
			}

			if err := pool.Unregister(m); err != nil {
				return result, err
			}
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
			result.Unregistered++
		} else {
			m := randomMesh(random, i, options.MaxVertices)
			_, err := pool.Register(m)
			switch {
			case errors.IsAny(err, geopool.ErrCapacityExhausted, geopool.ErrSlotLimitExceeded):
				result.Rejected++
			case err != nil:
				return result, err
			default:
				live = append(live, m)
				result.Registered++
			}
		}

		if options.CompactEvery > 0 && (i+1)%options.CompactEvery == 0 {
			stats, err := pool.Compact(geopool.CompactOptions{})
			if err != nil {
				return result, err
			}
			result.Compaction.Vertices.Add(stats.Vertices)
			result.Compaction.Indices.Add(stats.Indices)
		}

		if options.FlushEvery > 0 && (i+1)%options.FlushEvery == 0 {
			if err := pool.Flush(); err != nil {
				return result, err
			}
		}
	}

	if err := pool.Flush(); err != nil {
		return result, err
	}
	if err := pool.Validate(); err != nil {
		return result, err
	}

	pool.CalculateStatistics(&result.Pool)
	result.Live = len(live)
	result.Submissions = result.Pool.Submissions
	result.StatsJSON = pool.BuildStatsString(true)

	for _, m := range live {
		if err := pool.Unregister(m); err != nil {
			return result, err
		}
	}

	return result, pool.Dispose()
}

func verifyMesh(pool *geopool.Pool, m *mesh.Data) error {
	if pool.PendingUploads() > 0 {
		if err := pool.Flush(); err != nil {
			return err
		}
	}

	handle := pool.GetHandle(m)
	positions, err := pool.ReadVertices(handle, gpu.AttributePosition)
	if err != nil {
		return err
	}

	for i := range positions {
		if positions[i] != m.Positions[i] {
			return errors.AssertionFailedf("mesh %s: position component %d is %f, expected %f", m.Name, i, positions[i], m.Positions[i])
		}
	}

	return nil
}

func printChurnResult(w io.Writer, result churnResult) error {
	if detailed {
		_, err := fmt.Fprintln(w, result.StatsJSON)
		return err
	}

	stats := &result.Pool
	_, err := fmt.Fprintf(w, `registered:   %d
unregistered: %d
rejected:     %d
live meshes:  %d
submissions:  %d
compaction:   %d vertices in %d moves, %d indices in %d moves
vertex pool:  %d/%d used, %d free ranges, fragmentation %.3f
index pool:   %d/%d used, %d free ranges, fragmentation %.3f
`,
		result.Registered, result.Unregistered, result.Rejected, result.Live, result.Submissions,
		result.Compaction.Vertices.ElementsMoved, result.Compaction.Vertices.AllocationsMoved,
		result.Compaction.Indices.ElementsMoved, result.Compaction.Indices.AllocationsMoved,
		stats.Vertices.AllocatedElements, stats.Vertices.CapacityElements, stats.Vertices.FreeRangeCount, stats.Vertices.Fragmentation(),
		stats.Indices.AllocatedElements, stats.Indices.CapacityElements, stats.Indices.FreeRangeCount, stats.Indices.Fragmentation(),
	)
	return err
}
