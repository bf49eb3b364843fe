package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xviolet/violetmem/internal/config"
)

// --- record ---

var recordCmd = &cobra.Command{
	Use:   "record <text>",
	Short: "Record a tweet into the memory store",
	Long: `Record a tweet into the memory store.

Examples:
  violetmem record "just shipped the new release"
  violetmem record --user u42 --username kira --reply-to 1881201 "replying mid-thread"
  violetmem record --id 1881234 --created 2026-08-24T12:00:00Z "backdated tweet"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		id, _ := cmd.Flags().GetString("id")
		user, _ := cmd.Flags().GetString("user")
		username, _ := cmd.Flags().GetString("username")
		conversation, _ := cmd.Flags().GetString("conversation")
		replyTo, _ := cmd.Flags().GetString("reply-to")
		created, _ := cmd.Flags().GetString("created")

		if id == "" {
			id = uuid.New().String()
		}

		req := map[string]any{
			"id":      id,
			"user_id": user,
			"text":    text,
		}
		if username != "" {
			req["username"] = username
		}
		if conversation != "" {
			req["conversation_id"] = conversation
		}
		if replyTo != "" {
			req["in_reply_to"] = replyTo
		}
		if created != "" {
			req["created_at"] = created
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tweets", req)
		if err != nil {
			return err
		}

		var result struct {
			ID             string `json:"id"`
			ConversationID string `json:"conversation_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Recorded tweet %s (conversation %s)", result.ID, result.ConversationID)
		return nil
	},
}

func init() {
	recordCmd.Flags().String("id", "", "tweet id (default: random UUID)")
	recordCmd.Flags().String("user", "local", "author user id")
	recordCmd.Flags().String("username", "", "author handle")
	recordCmd.Flags().String("conversation", "", "conversation id to attach to")
	recordCmd.Flags().String("reply-to", "", "id of the tweet this replies to")
	recordCmd.Flags().String("created", "", "creation time, RFC 3339 (default: now)")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over stored tweets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		conversation, _ := cmd.Flags().GetString("conversation")
		user, _ := cmd.Flags().GetString("user")

		req := map[string]any{
			"text": query,
			"k":    limit,
		}
		if conversation != "" {
			req["conversation_id"] = conversation
		}
		if user != "" {
			req["user_id"] = user
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/search", req)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				Tweet struct {
					ID             string `json:"id"`
					UserID         string `json:"user_id"`
					Username       string `json:"username"`
					CreatedAt      string `json:"created_at"`
					ConversationID string `json:"conversation_id"`
					Text           string `json:"text"`
				} `json:"tweet"`
				Distance float32 `json:"distance"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("\n%s [distance: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Distance)
			fmt.Printf("  %s  %s  %s\n",
				colorize(colorCyan, authorLabel(r.Tweet.UserID, r.Tweet.Username)),
				colorize(colorDim, r.Tweet.CreatedAt),
				colorize(colorDim, "in "+r.Tweet.ConversationID),
			)
			text := r.Tweet.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
	searchCmd.Flags().String("conversation", "", "restrict to one conversation")
	searchCmd.Flags().String("user", "", "restrict to one author")
}

// --- thread ---

var threadCmd = &cobra.Command{
	Use:   "thread <conversation-id>",
	Short: "Show a conversation in chronological order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			Conversation struct {
				ID          string `json:"id"`
				RootTweetID string `json:"root_tweet_id"`
				LastUpdated string `json:"last_updated"`
			} `json:"conversation"`
			Tweets []struct {
				ID        string `json:"id"`
				UserID    string `json:"user_id"`
				Username  string `json:"username"`
				CreatedAt string `json:"created_at"`
				InReplyTo string `json:"in_reply_to"`
				Text      string `json:"text"`
			} `json:"tweets"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(colorize(colorBold, fmt.Sprintf("Conversation %s (%d tweets, root %s)",
			result.Conversation.ID, len(result.Tweets), result.Conversation.RootTweetID)))
		for _, t := range result.Tweets {
			fmt.Printf("\n%s  %s  %s\n",
				colorize(colorDim, t.CreatedAt),
				colorize(colorCyan, authorLabel(t.UserID, t.Username)),
				colorize(colorDim, shortID(t.ID)),
			)
			if t.InReplyTo != "" {
				fmt.Printf("  %s\n", colorize(colorDim, "replying to "+shortID(t.InReplyTo)))
			}
			fmt.Printf("  %s\n", t.Text)
		}
		return nil
	},
}

// --- pending ---

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List tweets still waiting for an embedding",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/tweets/unprocessed?limit=%d", limit))
		if err != nil {
			return err
		}

		var tweets []struct {
			ID        string `json:"id"`
			UserID    string `json:"user_id"`
			Username  string `json:"username"`
			CreatedAt string `json:"created_at"`
			Text      string `json:"text"`
		}
		if err := decodeJSON(resp, &tweets); err != nil {
			return err
		}

		if len(tweets) == 0 {
			fmt.Println("No pending tweets.")
			return nil
		}

		fmt.Println(colorize(colorBold, fmt.Sprintf("%s pending:", countLabel(len(tweets), limit))))
		for _, t := range tweets {
			text := t.Text
			if len(text) > 80 {
				text = text[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, shortID(t.ID)),
				t.CreatedAt,
				text,
			)
		}
		return nil
	},
}

func init() {
	pendingCmd.Flags().Int("limit", 20, "maximum number of tweets to list")
}

// --- embed ---

var embedCmd = &cobra.Command{
	Use:   "embed <tweet-id>",
	Short: "Attach an embedding to a tweet",
	Long: `Attach an embedding to a tweet.

Without --vector the server embeds the stored text through Ollama.

Examples:
  violetmem embed 1881234
  violetmem embed 1881234 --vector 0.12,-0.05,0.33`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vecStr, _ := cmd.Flags().GetString("vector")

		req := map[string]any{}
		if vecStr != "" {
			vector, err := parseVector(vecStr)
			if err != nil {
				return err
			}
			req["vector"] = vector
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tweets/"+args[0]+"/embedding", req)
		if err != nil {
			return err
		}

		var result struct {
			TweetID     string `json:"tweet_id"`
			EmbeddingID int64  `json:"embedding_id"`
			Dimension   int    `json:"dimension"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Embedded tweet %s (%d dimensions)", result.TweetID, result.Dimension)
		return nil
	},
}

func init() {
	embedCmd.Flags().String("vector", "", "comma-separated vector components (default: embed server-side)")
}

// --- interacted ---

var interactedCmd = &cobra.Command{
	Use:   "interacted",
	Short: "Track which tweets the bot has replied to",
}

var interactedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List marked tweet ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions")
		if err != nil {
			return err
		}

		var ids []string
		if err := decodeJSON(resp, &ids); err != nil {
			return err
		}

		if len(ids) == 0 {
			fmt.Println("No interactions recorded.")
			return nil
		}

		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var interactedMarkCmd = &cobra.Command{
	Use:   "mark <tweet-id>",
	Short: "Mark a tweet as replied to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/interactions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Marked %s", args[0])
		return nil
	},
}

var interactedCheckCmd = &cobra.Command{
	Use:   "check <tweet-id>",
	Short: "Check whether a tweet has been replied to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			TweetID    string `json:"tweet_id"`
			Interacted bool   `json:"interacted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Interacted {
			fmt.Println("interacted")
		} else {
			fmt.Println("not interacted")
		}
		return nil
	},
}

var interactedUnmarkCmd = &cobra.Command{
	Use:   "unmark <tweet-id>",
	Short: "Remove the replied-to marker from a tweet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/interactions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Unmarked %s", args[0])
		return nil
	},
}

var interactedClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all interaction markers",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL interaction markers. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/interactions")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleared all interaction markers")
		return nil
	},
}

func init() {
	interactedClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	interactedCmd.AddCommand(interactedListCmd)
	interactedCmd.AddCommand(interactedMarkCmd)
	interactedCmd.AddCommand(interactedCheckCmd)
	interactedCmd.AddCommand(interactedUnmarkCmd)
	interactedCmd.AddCommand(interactedClearCmd)
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild vector indexes from stored embeddings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Rebuilding vector indexes...")
		resp, err := client.post(cmd.Context(), "/admin/reindex", nil)
		if err != nil {
			return err
		}

		var result struct {
			Reindexed int `json:"reindexed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Reindexed %d embeddings", result.Reindexed)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage and index counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var st struct {
			Tweets        int `json:"tweets"`
			Conversations int `json:"conversations"`
			Embeddings    int `json:"embeddings"`
			Unprocessed   int `json:"unprocessed"`
			Interactions  int `json:"interactions"`
			Dimension     int `json:"dimension"`
			Index         *struct {
				Backend string `json:"backend"`
				Points  int    `json:"points"`
			} `json:"index"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		printStatus("Tweets", "%d", st.Tweets)
		printStatus("Conversations", "%d", st.Conversations)
		printStatus("Embeddings", "%d", st.Embeddings)
		printStatus("Unprocessed", "%d", st.Unprocessed)
		printStatus("Interactions", "%d", st.Interactions)
		printStatus("Dimension", "%d", st.Dimension)
		if st.Index != nil {
			printStatus("Index", "%s (%d points)", st.Index.Backend, st.Index.Points)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- helpers ---

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vector = append(vector, float32(f))
	}
	return vector, nil
}

func authorLabel(userID, username string) string {
	if username != "" {
		return "@" + username
	}
	return userID
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
