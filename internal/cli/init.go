// init.go implements the "slipway init" command.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/config"
	"github.com/slipway-dev/slipway/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize slipway in the current directory",
	Long: `Initialize the .slipway/ directory with configuration and an empty
session database.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	slipwayDir := filepath.Join(dir, ".slipway")
	if info, statErr := os.Stat(slipwayDir); statErr == nil && info.IsDir() {
		fmt.Println("Warning: .slipway/ directory already exists.")
		fmt.Print("Reinitialize? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.WriteConfig(dir, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Open once so the schema exists before the first run.
	dbPath := cfg.Database.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dir, dbPath)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	st.Close()

	if err := ensureGitignore(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to set up .gitignore: %v\n", err)
	}

	fmt.Println()
	fmt.Println("Slipway initialized")
	fmt.Println("Configuration written to .slipway/config.yaml")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .slipway/config.yaml to adjust the Claude binary or tools")
	fmt.Println("  2. Run: slipway run \"your task description\"")

	return nil
}

// ensureGitignore creates or appends to .gitignore so runtime artifacts are
// never committed. It reads the existing file and only adds entries that
// aren't already present.
func ensureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")

	requiredEntries := []string{
		// Slipway runtime (config.yaml IS committed)
		".slipway/slipway.db",
		".slipway/log.jsonl",
	}

	existing := ""
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	var missing []string
	for _, entry := range requiredEntries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var toAppend strings.Builder
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		toAppend.WriteString("\n")
	}
	if existing != "" {
		toAppend.WriteString("\n# Added by slipway init\n")
	}
	for _, entry := range missing {
		toAppend.WriteString(entry + "\n")
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(toAppend.String()); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}
