// ABOUTME: Store subcommands for the Charm KV credential backend
// ABOUTME: Link a device over SSH keys, show counts, force a sync or wipe the store

package charm

import (
	"flag"
	"fmt"
	"time"
)

// StoreLinkCommand links this device to a Charm account by syncing once.
func StoreLinkCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store link", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg := c.Config()
	fmt.Printf("Linking to %s with this machine's SSH key...\n", cfg.Host)

	if err := c.Sync(); err != nil {
		return fmt.Errorf("link failed: %w", err)
	}

	if id, err := c.ID(); err == nil {
		fmt.Printf("✓ Linked to account %s\n", id)
	} else {
		fmt.Println("✓ Device linked (account id unavailable)")
	}
	fmt.Println("Calendar settings and tokens now follow this account across devices.")
	return nil
}

// StoreStatusCommand prints the server, account and stored record counts.
func StoreStatusCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store status", flag.ExitOnError)
	_ = fs.Parse(args)

	st, err := c.Status()
	if err != nil {
		return err
	}

	fmt.Println("Charm Store")
	fmt.Printf("  Server:     %s\n", st.Host)
	fmt.Printf("  Auto-sync:  %v\n", st.AutoSync)
	if st.Connected {
		fmt.Printf("  Account:    %s\n", st.AccountID)
	} else {
		fmt.Println("  Account:    not connected")
	}
	fmt.Printf("  Users:      %d\n", st.Users)
	fmt.Printf("  Events:     %d\n", st.Events)
	if st.LastSync.IsZero() {
		fmt.Println("  Last sync:  never (this session)")
	} else {
		fmt.Printf("  Last sync:  %s\n", st.LastSync.Local().Format(time.RFC1123))
	}
	return nil
}

// StoreNowCommand syncs immediately.
func StoreNowCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store now", flag.ExitOnError)
	_ = fs.Parse(args)

	if err := c.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Println("✓ Synced")
	return nil
}

// StoreWipeCommand deletes every credential and event reference. It only
// prints a warning unless --confirm is given.
func StoreWipeCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store wipe", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "Confirm data wipe")
	_ = fs.Parse(args)

	if !*confirm {
		fmt.Println("This deletes ALL stored credentials and event references.")
		fmt.Println("Run `issuecal store wipe --confirm` to proceed.")
		return nil
	}

	if err := c.Reset(); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	fmt.Println("✓ Store wiped")
	return nil
}
