// cmd/readhubctl/commands.go
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"readhub/internal/catalog"
	"readhub/internal/membership"
	"readhub/internal/reports"
)

func (c *cli) loginCmd() *cobra.Command {
	var (
		email string
		admin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			password, err := c.readPassword("Password: ")
			if err != nil {
				return err
			}

			userType := membership.RoleUser
			if admin {
				userType = membership.RoleAdmin
			}
			res, err := c.client().WithToken("").SignIn(cmd.Context(), membership.SignInRequest{
				UserType: userType,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			if err := c.saveToken(res.Session.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", res.Session.DisplayName, res.Session.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&admin, "admin", false, "sign in as an administrator")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.client().SignOut(cmd.Context()); err != nil {
				return err
			}
			if err := os.Remove(c.tokenFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func (c *cli) booksCmd() *cobra.Command {
	books := &cobra.Command{Use: "books", Short: "Browse and manage the catalog"}

	var filter catalog.ListFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List books",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.client().ListBooks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printBooks(cmd.OutOrStdout(), result)
		},
	}
	list.Flags().StringVar(&filter.Search, "search", "", "match title, author or ISBN")
	list.Flags().StringVar(&filter.Availability, "availability", "", "available or borrowed")
	list.Flags().StringVar(&filter.Category, "category", "", "category")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.client().Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printBooks(cmd.OutOrStdout(), result)
		},
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Add the sample collection to an empty catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			added, err := c.client().SeedBooks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d sample books\n", added)
			return nil
		},
	}

	books.AddCommand(list, search, seed)
	return books
}

func (c *cli) borrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <bookID>",
		Short: "Borrow a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid book ID %q", args[0])
			}
			rec, err := c.client().Borrow(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Borrowed %q, due %s (record %s)\n",
				rec.BookTitle, rec.DueDate.Format("2006-01-02"), rec.ID)
			return nil
		},
	}
}

func (c *cli) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return <recordID>",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record ID %q", args[0])
			}
			rec, err := c.client().Return(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Returned %q\n", rec.BookTitle)
			return nil
		},
	}
}

func (c *cli) loansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loans",
		Short: "List your open loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := c.client().MyActive(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORD\tTITLE\tDUE\tSTATUS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.BookTitle, r.DueDate.Format("2006-01-02"), r.EffectiveStatus)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) reportCmd() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Library reports"}

	var (
		format   string
		rangeKey string
		sections []string
		output   string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Export a report as CSV or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return c.client().ExportReport(cmd.Context(), w, rangeKey, format, sections)
		},
	}
	export.Flags().StringVar(&format, "format", reports.FormatCSV, "csv or json")
	export.Flags().StringVar(&rangeKey, "range", reports.DefaultRange, "days to cover, or all")
	export.Flags().StringSliceVar(&sections, "sections", nil, "sections to include (default all)")
	export.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")

	report.AddCommand(export)
	return report
}

func (c *cli) feedbackCmd() *cobra.Command {
	feedback := &cobra.Command{Use: "feedback", Short: "Contact form administration"}
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Deliver contact submissions queued while the store was down",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client().FlushFeedback(cmd.Context())
			if err != nil {
				return err
			}
			if res.InProgress {
				fmt.Fprintln(cmd.OutOrStdout(), "A flush is already running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flushed %d, failed %d, %d still queued\n", res.Flushed, res.Failed, res.Remaining)
			return nil
		},
	}
	feedback.AddCommand(flush)
	return feedback
}

func printBooks(w io.Writer, books []*catalog.Book) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tCATEGORY\tAVAILABILITY")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, b.Category, b.Availability)
	}
	return tw.Flush()
}

// promptPassword reads without echo from a terminal and falls back to a
// plain line read when stdin is piped.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
