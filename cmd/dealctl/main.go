package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joelkehle/deal-scheduler/internal/client"
	"github.com/joelkehle/deal-scheduler/internal/scheduling"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: dealctl [-server URL] <command> [flags]

commands:
  register   register a deal and print the customer link
  deals      print the admin deal summary
  suggest    generate meeting suggestions for a deal
`)
	os.Exit(2)
}

func main() {
	serverURL := flag.String("server", envOr("DEAL_SCHEDULER_URL", "http://localhost:8080"), "deal-scheduler base URL")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}

	c := client.NewClient(*serverURL)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "register":
		err = runRegister(ctx, c, args)
	case "deals":
		err = runDeals(ctx, c)
	case "suggest":
		err = runSuggest(ctx, c, args)
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func runRegister(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	in := scheduling.RegisterDealInput{}
	fs.StringVar(&in.CompanyName, "company", "", "company name")
	fs.StringVar(&in.ContactName, "contact", "", "customer contact name")
	fs.StringVar(&in.SalesRepName, "rep", "", "sales representative")
	fs.StringVar(&in.Department, "department", "", "customer department (optional)")
	fs.StringVar(&in.RoleName, "role", "", "customer role (optional)")
	fs.StringVar(&in.Industry, "industry", "", "industry")
	fs.StringVar(&in.Revenue, "revenue", "", "revenue bracket")
	fs.StringVar(&in.MeetingType, "meeting-type", "オンライン", "meeting type")
	fs.IntVar(&in.Duration, "duration", 60, "meeting length in minutes")
	dates := fs.String("dates", "", "comma separated candidate slots, e.g. 2026-03-01T10:00,2026-03-02T14:30")
	_ = fs.Parse(args)

	for _, d := range strings.Split(*dates, ",") {
		if d = strings.TrimSpace(d); d != "" {
			in.Dates = append(in.Dates, d)
		}
	}
	reg, err := c.RegisterDeal(ctx, in)
	if err != nil {
		return fmt.Errorf("register deal: %w", err)
	}
	fmt.Printf("deal_id:    %s\nlink:       %s\nexpires_at: %s\n", reg.DealID, reg.Link, reg.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runDeals(ctx context.Context, c *client.Client) error {
	deals, err := c.ManageDeals(ctx)
	if err != nil {
		return fmt.Errorf("manage deals: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(deals)
}

func runSuggest(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("suggest", flag.ExitOnError)
	dealID := fs.String("deal", "", "deal id")
	_ = fs.Parse(args)
	if strings.TrimSpace(*dealID) == "" {
		return fmt.Errorf("missing required -deal")
	}
	res, err := c.GenerateSuggestion(ctx, *dealID)
	if err != nil {
		return fmt.Errorf("generate suggestion: %w", err)
	}
	if res.Error != "" {
		return fmt.Errorf("suggestion %s: %s", res.Status, res.Error)
	}
	fmt.Println(res.Text)
	return nil
}
