package cli

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/store"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the audience contact list",
}

var contactsImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import contacts from a CSV file",
	Long: `Import contacts from a CSV file with a header row:

  email,company,tags,sent,opened,clicked

Tags are semicolon-separated. The numeric columns are lifetime delivery
counters used for engagement scoring and may be omitted.`,
	Args: cobra.ExactArgs(1),
	RunE: runContactsImport,
}

func init() {
	contactsCmd.AddCommand(contactsImportCmd)
	rootCmd.AddCommand(contactsCmd)
}

func runContactsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["email"]; !ok {
		return fmt.Errorf("csv is missing the email column")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()
		imported := 0

		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read row: %w", err)
			}

			contact := &store.Contact{
				OwnerID:         ownerID,
				Email:           strings.TrimSpace(field(record, col, "email")),
				Status:          "active",
				Company:         strings.TrimSpace(field(record, col, "company")),
				Tags:            splitTags(field(record, col, "tags")),
				LifetimeSent:    atoi(field(record, col, "sent")),
				LifetimeOpened:  atoi(field(record, col, "opened")),
				LifetimeClicked: atoi(field(record, col, "clicked")),
			}
			if contact.Email == "" {
				continue
			}

			if err := s.UpsertContact(ctx, contact); err != nil {
				return fmt.Errorf("failed to import %s: %w", contact.Email, err)
			}
			imported++
		}

		fmt.Printf("Imported %d contacts for owner '%s'\n", imported, ownerID)
		return nil
	})
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
