package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "init":
		adminKey, err := generateAdminKey()
		if err != nil {
			log.Fatalf("failed to generate admin key: %v", err)
		}
		if err := writeAdminKey(".env", adminKey); err != nil {
			log.Fatalf("failed to write .env: %v", err)
		}
		fmt.Printf("AdminKey: %s\nSaved to .env (ADMIN_KEY).\n", adminKey)
	case "exchanges":
		handleExchanges(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("relay-admin commands:")
	fmt.Println("  init                 Generate admin key and store in .env")
	fmt.Println("  exchanges            Show recent HTTP exchanges recorded by a running relay")
	fmt.Println("     flags: -addr -key -limit -json")
}

func generateAdminKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "admin_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func writeAdminKey(envFile, adminKey string) error {
	data, err := os.ReadFile(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.WriteFile(envFile, []byte(fmt.Sprintf("ADMIN_KEY=%s\n", adminKey)), 0600)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, "ADMIN_KEY=") {
			lines[i] = fmt.Sprintf("ADMIN_KEY=%s", adminKey)
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, fmt.Sprintf("ADMIN_KEY=%s", adminKey))
	}
	return os.WriteFile(envFile, []byte(strings.Join(lines, "\n")+"\n"), 0600)
}

// exchangeList mirrors the /admin/exchanges payload.
type exchangeList struct {
	Count     int `json:"count"`
	Exchanges []struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		Request   struct {
			Method        string `json:"method"`
			URI           string `json:"uri"`
			RemoteAddress string `json:"remoteAddress"`
		} `json:"request"`
		Response struct {
			Status int `json:"status"`
		} `json:"response"`
		Principal *struct {
			Name string `json:"name"`
		} `json:"principal"`
		TimeTakenMs *int64 `json:"timeTakenMs"`
	} `json:"exchanges"`
}

func handleExchanges(args []string) {
	flags := flag.NewFlagSet("exchanges", flag.ExitOnError)
	addr := flags.String("addr", "http://localhost:8080", "Relay base URL")
	key := flags.String("key", os.Getenv("ADMIN_KEY"), "Admin key (defaults to $ADMIN_KEY)")
	limit := flags.Int("limit", 20, "Maximum number of exchanges to show (0 = all)")
	raw := flags.Bool("json", false, "Print the raw JSON response")

	if err := flags.Parse(args); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := fetchExchanges(ctx, *addr, *key, *limit)
	if err != nil {
		log.Fatalf("failed to fetch exchanges: %v", err)
	}
	if *raw {
		fmt.Println(string(body))
		return
	}

	var list exchangeList
	if err := json.Unmarshal(body, &list); err != nil {
		log.Fatalf("unexpected response: %v", err)
	}
	if err := printExchanges(os.Stdout, &list); err != nil {
		log.Fatalf("failed to print exchanges: %v", err)
	}
}

func fetchExchanges(ctx context.Context, addr, key string, limit int) ([]byte, error) {
	url := strings.TrimRight(addr, "/") + "/admin/exchanges"
	if limit > 0 {
		url += fmt.Sprintf("?limit=%d", limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Admin-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printExchanges(w io.Writer, list *exchangeList) error {
	if list.Count == 0 {
		_, err := fmt.Fprintln(w, "No exchanges recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tMETHOD\tURI\tPRINCIPAL\tTOOK")
	for _, e := range list.Exchanges {
		principal, took := "-", "-"
		if e.Principal != nil {
			principal = e.Principal.Name
		}
		if e.TimeTakenMs != nil {
			took = fmt.Sprintf("%dms", *e.TimeTakenMs)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.TimeOnly), e.Response.Status, e.Request.Method,
			e.Request.URI, principal, took)
	}
	return tw.Flush()
}
