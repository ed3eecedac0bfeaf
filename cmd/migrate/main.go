package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"beaconrig/adapters/postgres"
	"beaconrig/internal/report"
)

// migrate imports result directories written by `beaconrig reconstruct`
// into the results database
func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: migrate <database_url> <results_dir...>")
	}

	databaseURL := os.Args[1]
	ctx := context.Background()

	db, err := postgres.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	store := postgres.NewMetricStore(db)

	var dirs []string
	for _, root := range os.Args[2:] {
		found, err := findRunDirs(root)
		if err != nil {
			log.Fatalf("Failed to scan %s: %v", root, err)
		}
		dirs = append(dirs, found...)
	}
	log.Printf("Found %d run directories to import", len(dirs))

	migrated, skipped := 0, 0
	for _, dir := range dirs {
		rep, man, err := report.ReadReport(dir)
		if err != nil {
			log.Printf("Failed to read run in %s: %v", dir, err)
			skipped++
			continue
		}
		if err := store.SaveReport(ctx, rep, man); err != nil {
			log.Printf("Failed to store run %s: %v", rep.RunID, err)
			skipped++
			continue
		}
		log.Printf("Imported run %s (%d trials, %d exclusions)", rep.RunID, len(rep.Trials), len(rep.Exclusions))
		migrated++
	}

	log.Printf("Migration complete: %d imported, %d skipped", migrated, skipped)
}

// findRunDirs returns every directory under root holding a report
func findRunDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == report.ReportJSON {
			dirs = append(dirs, filepath.Dir(path))
		}
		return nil
	})
	return dirs, err
}
