package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

const (
	authPrefix    = "/api/v1/auth"
	expensePrefix = "/api/v1/expense-tracker"
)

var errUsage = errors.New("usage")

type cli struct {
	api *apiClient
	out io.Writer
}

type person struct {
	First string `json:"firstname"`
	Last  string `json:"lastname"`
}

type user struct {
	ID    string `json:"id"`
	Name  person `json:"name"`
	Email string `json:"email"`
}

type authResult struct {
	User  user   `json:"user"`
	Token string `json:"token"`
}

type transaction struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Subclass      string    `json:"subclass"`
	SubclassLabel string    `json:"subclassLabel"`
	Amount        float64   `json:"amount"`
	Description   string    `json:"description"`
	Date          time.Time `json:"date"`
	PaymentMethod string    `json:"paymentMethod"`
}

type pagination struct {
	Page       int   `json:"page"`
	TotalPages int   `json:"totalPages"`
	TotalCount int64 `json:"totalCount"`
}

type envelope[T any] struct {
	Message    string      `json:"message"`
	Data       T           `json:"data"`
	Pagination *pagination `json:"pagination"`
}

type balance struct {
	TotalIncome         float64 `json:"totalIncome"`
	TotalExpense        float64 `json:"totalExpense"`
	NetBalance          float64 `json:"netBalance"`
	IncomeTransactions  int     `json:"incomeTransactions"`
	ExpenseTransactions int     `json:"expenseTransactions"`
	TotalTransactions   int     `json:"totalTransactions"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	c := &cli{api: newAPIClient(), out: os.Stdout}
	if err := c.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		}
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "auth":
		return c.handleAuth(ctx, args)
	case "tx":
		return c.handleTransactions(ctx, args)
	case "analytics":
		return c.handleAnalytics(ctx, args)
	case "help":
		printUsage(c.out)
		return nil
	default:
		fmt.Fprintf(c.out, "unknown command: %s\n", command)
		printUsage(c.out)
		return errUsage
	}
}

func (c *cli) handleAuth(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: expensetracker auth <register|login|logout|who>")
		return errUsage
	}

	switch args[0] {
	case "register":
		return c.register(ctx, args[1:])
	case "login":
		return c.login(ctx, args[1:])
	case "logout":
		if err := c.api.clearToken(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "✓ Logged out")
		return nil
	case "who":
		return c.whoAmI(ctx)
	default:
		fmt.Fprintf(c.out, "unknown auth command: %s\n", args[0])
		return errUsage
	}
}

func (c *cli) handleTransactions(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: expensetracker tx <list|add|show|delete>")
		return errUsage
	}

	switch args[0] {
	case "list":
		return c.listTransactions(ctx, args[1:])
	case "add":
		return c.addTransaction(ctx, args[1:])
	case "show":
		return c.showTransaction(ctx, args[1:])
	case "delete":
		return c.deleteTransaction(ctx, args[1:])
	default:
		fmt.Fprintf(c.out, "unknown tx command: %s\n", args[0])
		return errUsage
	}
}

func (c *cli) handleAnalytics(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "balance" {
		fmt.Fprintln(c.out, "Usage: expensetracker analytics balance [-start YYYY-MM-DD] [-end YYYY-MM-DD]")
		return errUsage
	}
	return c.showBalance(ctx, args[1:])
}

// Auth commands
func (c *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(c.out)
	name := fs.String("name", "", "full name (first and last)")
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password (min 6 characters)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *name == "" || *email == "" || *password == "" {
		fmt.Fprintln(c.out, "Error: name, email, and password are required")
		fs.PrintDefaults()
		return errUsage
	}

	var res authResult
	payload := map[string]string{"name": *name, "email": *email, "password": *password}
	if err := c.api.do(ctx, "POST", authPrefix+"/register", payload, &res); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if err := c.api.saveToken(res.Token); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Registered %s %s (%s)\n", res.User.Name.First, res.User.Name.Last, res.User.Email)
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(c.out)
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *email == "" || *password == "" {
		fmt.Fprintln(c.out, "Error: email and password are required")
		fs.PrintDefaults()
		return errUsage
	}

	var res authResult
	payload := map[string]string{"email": *email, "password": *password}
	if err := c.api.do(ctx, "POST", authPrefix+"/login", payload, &res); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.api.saveToken(res.Token); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Logged in as: %s\n", res.User.Email)
	return nil
}

func (c *cli) whoAmI(ctx context.Context) error {
	if c.api.loadToken() == "" {
		fmt.Fprintln(c.out, "Not logged in")
		return nil
	}
	var res struct {
		User user `json:"user"`
	}
	if err := c.api.do(ctx, "GET", authPrefix+"/me", nil, &res); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ %s %s <%s> (id %s)\n", res.User.Name.First, res.User.Name.Last, res.User.Email, res.User.ID)
	return nil
}

// Transaction commands
func (c *cli) listTransactions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(c.out)
	kind := fs.String("type", "", "income or expense")
	subclass := fs.String("subclass", "", "subclass key")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD, inclusive)")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(*page))
	q.Set("limit", strconv.Itoa(*limit))
	setIf(q, "type", *kind)
	setIf(q, "subclass", *subclass)
	setIf(q, "startDate", *start)
	setIf(q, "endDate", *end)

	var res envelope[[]transaction]
	if err := c.api.do(ctx, "GET", expensePrefix+"/transactions?"+q.Encode(), nil, &res); err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTYPE\tSUBCLASS\tAMOUNT\tDESCRIPTION")
	for _, t := range res.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n", t.ID, t.Date.Format("2006-01-02"), t.Type, t.Subclass, t.Amount, t.Description)
	}
	w.Flush()
	if p := res.Pagination; p != nil {
		fmt.Fprintf(c.out, "page %d of %d (%d total)\n", p.Page, p.TotalPages, p.TotalCount)
	}
	return nil
}

func (c *cli) addTransaction(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(c.out)
	kind := fs.String("type", "expense", "income or expense")
	subclass := fs.String("subclass", "", "subclass key, e.g. food_dining or salary")
	amount := fs.Float64("amount", 0, "positive amount")
	description := fs.String("description", "", "description")
	date := fs.String("date", "", "date (YYYY-MM-DD, default today)")
	payment := fs.String("payment", "", "payment method (expenses only)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *subclass == "" || *amount <= 0 {
		fmt.Fprintln(c.out, "Error: subclass and a positive amount are required")
		fs.PrintDefaults()
		return errUsage
	}

	payload := map[string]any{
		"type":        *kind,
		"subclass":    *subclass,
		"amount":      *amount,
		"description": *description,
	}
	if *date != "" {
		payload["date"] = *date
	}
	if *payment != "" {
		payload["paymentMethod"] = *payment
	}

	var res envelope[transaction]
	if err := c.api.do(ctx, "POST", expensePrefix+"/transactions", payload, &res); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Created %s %.2f (%s)\n", res.Data.Type, res.Data.Amount, res.Data.ID)
	return nil
}

func (c *cli) showTransaction(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: expensetracker tx show <transaction-id>")
		return errUsage
	}
	var res envelope[transaction]
	if err := c.api.do(ctx, "GET", expensePrefix+"/transactions/"+url.PathEscape(args[0]), nil, &res); err != nil {
		return err
	}
	t := res.Data
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", t.ID)
	fmt.Fprintf(w, "Type\t%s\n", t.Type)
	fmt.Fprintf(w, "Subclass\t%s\n", t.Subclass)
	fmt.Fprintf(w, "Amount\t%.2f\n", t.Amount)
	fmt.Fprintf(w, "Date\t%s\n", t.Date.Format("2006-01-02"))
	fmt.Fprintf(w, "Description\t%s\n", t.Description)
	if t.PaymentMethod != "" {
		fmt.Fprintf(w, "Payment\t%s\n", t.PaymentMethod)
	}
	return w.Flush()
}

func (c *cli) deleteTransaction(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: expensetracker tx delete <transaction-id>")
		return errUsage
	}
	if err := c.api.do(ctx, "DELETE", expensePrefix+"/transactions/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Deleted %s\n", args[0])
	return nil
}

func (c *cli) showBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	fs.SetOutput(c.out)
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD, inclusive)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	q := url.Values{}
	setIf(q, "startDate", *start)
	setIf(q, "endDate", *end)
	path := expensePrefix + "/analytics/balance"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res envelope[struct {
		Balance balance `json:"balance"`
	}]
	if err := c.api.do(ctx, "GET", path, nil, &res); err != nil {
		return err
	}
	b := res.Data.Balance
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Income\t%.2f\t(%d)\n", b.TotalIncome, b.IncomeTransactions)
	fmt.Fprintf(w, "Expenses\t%.2f\t(%d)\n", b.TotalExpense, b.ExpenseTransactions)
	fmt.Fprintf(w, "Net\t%.2f\t(%d)\n", b.NetBalance, b.TotalTransactions)
	return w.Flush()
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Expense Tracker CLI

Usage:
  expensetracker <command> [options]

Commands:
  auth       User authentication (register, login, logout, who)
  tx         Transactions (list, add, show, delete)
  analytics  Analytics (balance)
  help       Show this help message

Environment Variables:
  API_URL    Gateway endpoint (default: http://localhost:8080)

Examples:
  expensetracker auth register -name "Jane Doe" -email jane@example.com -password secret1
  expensetracker auth login -email jane@example.com -password secret1
  expensetracker tx add -type expense -subclass food_dining -amount 12.50 -description lunch
  expensetracker tx list -type expense -start 2026-01-01
  expensetracker analytics balance
`)
}
