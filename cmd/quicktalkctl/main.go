package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/elizkhv/quicktalk/internal/config"
	"github.com/elizkhv/quicktalk/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		if cfg, err := config.Load(profile.ConfigPath()); err == nil {
			addr = cfg.ListenAddr
		} else {
			addr = config.Default().ListenAddr
		}
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		base:    "http://" + addr,
		profile: profileName,
		http:    &http.Client{Timeout: 10 * time.Second},
		rawJSON: *jsonFlag,
	}

	var err error
	switch args[0] {
	case "register":
		err = c.register(args[1:])
	case "login":
		err = c.login(args[1:])
	case "users":
		err = c.users()
	case "send":
		err = c.send(args[1:])
	case "recents":
		err = c.recents()
	case "log":
		err = c.chatLog(args[1:])
	case "status":
		err = c.status()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: quicktalkctl [--profile <name>] [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  register <email> <password>   Create an account")
	fmt.Fprintln(os.Stderr, "  login <email> <password>      Log in, cache the token")
	fmt.Fprintln(os.Stderr, "  users                         List the user directory")
	fmt.Fprintln(os.Stderr, "  send <uid> <text...>          Send a message")
	fmt.Fprintln(os.Stderr, "  recents                       Show recent conversations")
	fmt.Fprintln(os.Stderr, "  log <uid>                     Show the chat log with a user")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
}

type client struct {
	base    string
	profile string
	http    *http.Client
	rawJSON bool
}

func (c *client) token() string {
	data, err := os.ReadFile(profile.TokenPath(c.profile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *client) do(method, path string, body any) (map[string]any, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("bad response: %s", raw)
		}
	}
	if resp.StatusCode >= 400 {
		if msg, ok := decoded["error"].(string); ok {
			return nil, fmt.Errorf("%s (%d)", msg, resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if c.rawJSON {
		out, _ := json.MarshalIndent(decoded, "", "  ")
		fmt.Println(string(out))
	}
	return decoded, nil
}

func (c *client) register(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: quicktalkctl register <email> <password>")
	}
	body, err := c.do("POST", "/v1/users", map[string]string{"email": args[0], "password": args[1]})
	if err != nil {
		return err
	}
	if !c.rawJSON {
		fmt.Printf("registered %s (uid %s)\n", body["email"], body["uid"])
	}
	return nil
}

func (c *client) login(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: quicktalkctl login <email> <password>")
	}
	body, err := c.do("POST", "/v1/login", map[string]string{"email": args[0], "password": args[1]})
	if err != nil {
		return err
	}
	token, _ := body["token"].(string)
	if token == "" {
		return fmt.Errorf("no token in response")
	}
	if err := os.MkdirAll(profile.Dir(c.profile), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(profile.TokenPath(c.profile), []byte(token), 0600); err != nil {
		return err
	}
	if !c.rawJSON {
		fmt.Printf("logged in as %s\n", args[0])
	}
	return nil
}

func (c *client) users() error {
	body, err := c.do("GET", "/v1/users", nil)
	if err != nil || c.rawJSON {
		return err
	}
	users, _ := body["users"].([]any)
	for _, u := range users {
		m, _ := u.(map[string]any)
		fmt.Printf("%s  %s\n", m["uid"], m["email"])
	}
	return nil
}

func (c *client) send(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: quicktalkctl send <uid> <text...>")
	}
	body, err := c.do("POST", "/v1/messages", map[string]string{
		"to_id": args[0],
		"text":  strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	if !c.rawJSON {
		fmt.Printf("queued %s\n", body["client_msg_id"])
	}
	return nil
}

func (c *client) recents() error {
	body, err := c.do("GET", "/v1/conversations", nil)
	if err != nil || c.rawJSON {
		return err
	}
	convs, _ := body["conversations"].([]any)
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return nil
	}
	for _, v := range convs {
		m, _ := v.(map[string]any)
		ts := int64(0)
		if f, ok := m["timestamp"].(float64); ok {
			ts = int64(f)
		}
		fmt.Printf("%s  %-30s  %s\n",
			time.UnixMilli(ts).Format("2006-01-02 15:04"),
			m["email"], m["text"])
	}
	return nil
}

func (c *client) chatLog(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: quicktalkctl log <uid>")
	}
	body, err := c.do("GET", "/v1/messages/"+args[0], nil)
	if err != nil || c.rawJSON {
		return err
	}
	msgs, _ := body["messages"].([]any)
	for _, v := range msgs {
		m, _ := v.(map[string]any)
		fmt.Printf("%s -> %s: %s\n", m["from_id"], m["to_id"], m["text"])
	}
	return nil
}

func (c *client) status() error {
	body, err := c.do("GET", "/v1/status", nil)
	if err != nil || c.rawJSON {
		return err
	}
	fmt.Printf("state: %s\n", body["state"])
	return nil
}
