package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var server string
	var stateless bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running cinechat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &chatClient{
				server: strings.TrimRight(server, "/"),
				http:   &http.Client{Timeout: 125 * time.Second},
			}
			return c.loop(stateless)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:3210", "cinechat server URL")
	cmd.Flags().BoolVar(&stateless, "stateless", false, "Keep history locally instead of in a server session")
	return cmd
}

// chatClient talks to the HTTP API. Without a session it carries history itself.
type chatClient struct {
	server    string
	http      *http.Client
	sessionID string
	history   [][2]string
}

type chatReply struct {
	Answer            string `json:"answer"`
	SessionID         string `json:"session_id"`
	ToolUsed          bool   `json:"tool_used"`
	Iterations        int    `json:"iterations"`
	SavedMemoryID     string `json:"saved_memory_id"`
	RetrievedContexts []struct {
		Source string `json:"source"`
	} `json:"retrieved_contexts"`
}

func (c *chatClient) loop(stateless bool) error {
	fmt.Println("cinechat CLI")
	fmt.Printf("Server: %s\n", c.server)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /new, /memories, /health")
	fmt.Println("---")

	if !stateless {
		c.newSession()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil
		case "/health":
			c.printJSON("/api/health")
			continue
		case "/memories":
			c.printJSON("/api/memories?limit=5")
			continue
		case "/new":
			c.history = nil
			if c.sessionID != "" {
				c.newSession()
			}
			fmt.Println("Started a new conversation.")
			continue
		}
		c.send(input)
	}
}

// newSession opens a server-side session, or stays stateless when the server has no store.
func (c *chatClient) newSession() {
	c.sessionID = ""
	resp, err := c.http.Post(c.server+"/api/sessions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		printError("Failed to create session: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		fmt.Println("Server has no session store, keeping history locally.")
		return
	}
	var s struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		printError("Failed to parse session: %v", err)
		return
	}
	c.sessionID = s.ID
	fmt.Printf("Session: %s\n", s.ID)
}

func (c *chatClient) send(content string) {
	url := c.server + "/api/chat"
	payload := map[string]interface{}{"message": content}
	if c.sessionID != "" {
		url = c.server + "/api/sessions/" + c.sessionID + "/chat"
	} else if len(c.history) > 0 {
		hist := make([][]string, len(c.history))
		for i, h := range c.history {
			hist[i] = []string{h[0], h[1]}
		}
		payload["history"] = hist
	}
	body, _ := json.Marshal(payload)

	resp, err := c.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	if c.sessionID == "" {
		c.history = append(c.history, [2]string{content, reply.Answer})
	}

	fmt.Println(reply.Answer)
	if reply.ToolUsed {
		seen := map[string]bool{}
		var sources []string
		for _, rc := range reply.RetrievedContexts {
			if rc.Source != "" && !seen[rc.Source] {
				seen[rc.Source] = true
				sources = append(sources, rc.Source)
			}
		}
		if len(sources) > 0 {
			fmt.Printf("\033[90m[sources: %s]\033[0m\n", strings.Join(sources, ", "))
		}
	}
	if reply.SavedMemoryID != "" {
		fmt.Printf("\033[36m[remembered %s]\033[0m\n", reply.SavedMemoryID)
	}
}

func (c *chatClient) printJSON(path string) {
	resp, err := c.http.Get(c.server + path)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var v interface{}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
