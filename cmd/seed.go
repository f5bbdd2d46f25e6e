// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cartahq/cartanav/hierdb"
	"github.com/cartahq/cartanav/internal/dbopen"
	"github.com/cartahq/cartanav/internal/idgen"
)

var seedFile string

func init() {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk-import an entity tree from a YAML file",
		RunE:  runSeed,
	}
	cmd.Flags().StringVar(&seedFile, "file", "", "YAML file describing the entity tree")
	_ = cmd.MarkFlagRequired("file")

	rootCmd.AddCommand(cmd)
}

// seedEntity is one node of the import tree. Children derive their path
// from the parent, so the file never spells out full paths and cannot
// violate the path invariant.
type seedEntity struct {
	Segment    string         `yaml:"segment"`
	Name       string         `yaml:"name"`
	Kind       string         `yaml:"kind"`
	Confidence *float64       `yaml:"confidence,omitempty"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
	Children   []seedEntity   `yaml:"children,omitempty"`
}

type seedFileContent struct {
	Entities []seedEntity `yaml:"entities"`
}

func runSeed(_ *cobra.Command, _ []string) error {
	runID := idgen.DefaultFlakeGenerator.NextID()

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var content seedFileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(content.Entities) == 0 {
		return fmt.Errorf("seed file contains no entities")
	}

	ctx := context.Background()
	store, err := dbopen.HierDBStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to hierdb: %w", err)
	}
	defer store.Close()

	slog.Info("Seeding entity tree",
		slog.Int64("runID", runID),
		slog.String("file", seedFile))

	var imported int
	for _, root := range content.Entities {
		n, err := seedSubtree(ctx, store, nil, root)
		imported += n
		if err != nil {
			return fmt.Errorf("import stopped after %d entities: %w", imported, err)
		}
	}

	rows, err := store.RecomputeProjection(ctx, "")
	if err != nil {
		return fmt.Errorf("imported %d entities but projection recompute failed: %w", imported, err)
	}

	slog.Info("Seed complete",
		slog.Int64("runID", runID),
		slog.Int("entities", imported),
		slog.Int("projectionRows", rows))
	return nil
}

func seedSubtree(ctx context.Context, store *hierdb.Store, parentID *uuid.UUID, node seedEntity) (int, error) {
	if node.Segment == "" || node.Name == "" {
		return 0, fmt.Errorf("entity missing segment or name")
	}

	entity, err := store.InsertEntity(ctx, hierdb.InsertEntityParams{
		ID:         uuid.New(),
		Name:       node.Name,
		Kind:       hierdb.EntityKind(node.Kind),
		Segment:    node.Segment,
		ParentID:   parentID,
		Confidence: node.Confidence,
		Metadata:   node.Metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("insert %q: %w", node.Segment, err)
	}

	imported := 1
	for _, child := range node.Children {
		n, err := seedSubtree(ctx, store, &entity.ID, child)
		imported += n
		if err != nil {
			return imported, err
		}
	}
	return imported, nil
}
