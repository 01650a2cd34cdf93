package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a rules question",
	Long: `Ask a rules question against the running grimoire server.

Examples:
  grimoire ask "What does Fireball do?"
  grimoire ask --chat 4f7c… "And at higher levels?"
  grimoire ask --stream "Explain grappling step by step"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := args[0]
		chatID, _ := cmd.Flags().GetString("chat")
		stream, _ := cmd.Flags().GetBool("stream")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{"message": question}
		if chatID != "" {
			req["id"] = chatID
		}

		if stream {
			return streamAnswer(cmd, client, req)
		}

		resp, err := client.post(cmd.Context(), "/chats/message", req)
		if err != nil {
			return err
		}

		var result struct {
			Message string `json:"message"`
			ID      string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, result.Message)
		printStatus("Chat", "%s", result.ID)
		return nil
	},
}

// streamAnswer prints chunks as they arrive. The server ends every stream
// with a [FINISHED] line that is stripped from the output.
func streamAnswer(cmd *cobra.Command, client *apiClient, req map[string]string) error {
	resp, err := client.post(cmd.Context(), "/chats/message/streaming", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if id := resp.Header.Get("X-Chat-ID"); id != "" {
		printStatus("Chat", "%s", id)
	}

	reader := bufio.NewReader(resp.Body)
	buf := make([]byte, 4096)
	var tail string
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			tail += string(buf[:n])
			// Hold back enough bytes to recognize a split terminator.
			if cut := len(tail) - len("[FINISHED]"); cut > 0 {
				fmt.Fprint(os.Stdout, tail[:cut])
				tail = tail[cut:]
			}
		}
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("reading stream: %w", err)
			}
			break
		}
	}
	fmt.Fprintln(os.Stdout, strings.TrimSuffix(tail, "[FINISHED]"))
	return nil
}

func init() {
	askCmd.Flags().String("chat", "", "existing chat id to continue")
	askCmd.Flags().Bool("stream", false, "stream the answer as it is generated")
}

// --- chats ---

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage chat history",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/chats")
		if err != nil {
			return err
		}

		var chats []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &chats); err != nil {
			return err
		}

		if len(chats) == 0 {
			fmt.Fprintln(os.Stdout, "no chats yet")
			return nil
		}
		for _, c := range chats {
			fmt.Fprintf(os.Stdout, "%s  %s  %s\n", c.ID, c.CreatedAt, c.Title)
		}
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show the messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/chats/"+args[0]+"/messages")
		if err != nil {
			return err
		}

		var messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &messages); err != nil {
			return err
		}

		for _, m := range messages {
			fmt.Fprintf(os.Stdout, "[%s] %s\n", m.Role, m.Content)
		}
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/chats/"+args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, readErr)
			}
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		printSuccess("Deleted chat %s", args[0])
		return nil
	},
}

func init() {
	chatsCmd.AddCommand(chatsListCmd, chatsShowCmd, chatsDeleteCmd)
}
