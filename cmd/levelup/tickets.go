package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/tickets"
)

var (
	ticketPath        string
	ticketDescription string
	ticketListAll     bool
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage local project tickets",
}

var ticketAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a ticket with the next free number",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketAdd,
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's tickets",
	RunE:  runTicketList,
}

var ticketDoneCmd = &cobra.Command{
	Use:   "done NUMBER",
	Short: "Mark a ticket done",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketDone,
}

var ticketImportCmd = &cobra.Command{
	Use:   "import [FILE]",
	Short: "Import tickets from a legacy markdown ticket file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTicketImport,
}

func init() {
	ticketCmd.PersistentFlags().StringVar(&ticketPath, "path", ".", "target repository path")
	ticketAddCmd.Flags().StringVarP(&ticketDescription, "description", "d", "", "ticket description")
	ticketListCmd.Flags().BoolVarP(&ticketListAll, "all", "a", false, "include done tickets")
	ticketCmd.AddCommand(ticketAddCmd)
	ticketCmd.AddCommand(ticketListCmd)
	ticketCmd.AddCommand(ticketDoneCmd)
	ticketCmd.AddCommand(ticketImportCmd)
	rootCmd.AddCommand(ticketCmd)
}

func ticketProjectPath() (string, error) {
	return filepath.Abs(ticketPath)
}

func runTicketAdd(cmd *cobra.Command, args []string) error {
	projectPath, err := ticketProjectPath()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	t := &domain.Ticket{
		ProjectPath: projectPath,
		Title:       args[0],
		Description: ticketDescription,
	}
	if err := store.CreateTicket(t); err != nil {
		return err
	}

	fmt.Printf("Created ticket #%d: %s\n", t.Number, t.Title)
	return nil
}

func runTicketList(cmd *cobra.Command, args []string) error {
	projectPath, err := ticketProjectPath()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListTickets(projectPath, ticketListAll)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		if ticketListAll {
			fmt.Println("No tickets")
		} else {
			fmt.Println("No open tickets")
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATUS\tTITLE\tCREATED")
	for _, t := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.Number, t.Status, truncate(t.Title, 50), humanize.Time(t.CreatedAt))
	}
	w.Flush()

	return nil
}

func runTicketDone(cmd *cobra.Command, args []string) error {
	number, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid ticket number: %s", args[0])
	}

	projectPath, err := ticketProjectPath()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetTicketStatus(projectPath, number, domain.TicketDone); err != nil {
		return err
	}
	fmt.Printf("Ticket #%d done\n", number)
	return nil
}

func runTicketImport(cmd *cobra.Command, args []string) error {
	projectPath, err := ticketProjectPath()
	if err != nil {
		return err
	}

	file := tickets.DefaultFilePath(projectPath)
	if len(args) > 0 {
		file, err = filepath.Abs(args[0])
		if err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	imported, skipped, err := tickets.ImportFile(store, projectPath, file)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d tickets from %s", imported, file)
	if skipped > 0 {
		fmt.Printf(" (%d already present)", skipped)
	}
	fmt.Println()
	return nil
}
