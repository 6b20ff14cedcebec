package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/lumapix/lumapix-backend/internal/clients/huggingface"
	apperrors "github.com/lumapix/lumapix-backend/internal/pkg/errors"
	"github.com/lumapix/lumapix-backend/internal/pkg/logger"
)

// Removes published model repos from the hosting provider: a single repo by
// name, or every repo owned by the configured account.
func main() {
	repoName := flag.String("repo", "", "repo to delete (owner/name or bare name)")
	all := flag.Bool("all", false, "delete every model repo owned by the configured account")
	dryRun := flag.Bool("dry-run", false, "list what would be deleted without deleting")
	flag.Parse()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	client, err := huggingface.NewClient(log)
	if err != nil {
		log.Fatal("Model publisher client init failed", "error", err)
	}

	ctx := context.Background()

	if *repoName != "" {
		target := *repoName
		if !strings.Contains(target, "/") {
			target = client.Owner() + "/" + target
		}
		deleteOne(ctx, log, client, target, *dryRun)
		return
	}

	if !*all {
		log.Fatal("Nothing to do: pass -repo <name> or -all")
	}

	repoIDs, err := client.ListRepos(ctx)
	if err != nil {
		log.Fatal("Failed to list repos", "error", err)
	}
	log.Info("Found repos", "count", len(repoIDs))
	for _, id := range repoIDs {
		deleteOne(ctx, log, client, id, *dryRun)
	}
}

func deleteOne(ctx context.Context, log *logger.Logger, client huggingface.Client, repoID string, dryRun bool) {
	if dryRun {
		log.Info("Would delete repo", "repo_id", repoID)
		return
	}
	if err := client.DeleteRepo(ctx, repoID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Info("Repo already gone", "repo_id", repoID)
			return
		}
		log.Error("Failed to delete repo", "repo_id", repoID, "error", err)
		return
	}
	log.Info("Deleted repo", "repo_id", repoID)
}
