package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arenvik/deadbolt/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(ctx, os.Args[2:])
	case "store":
		runStore(ctx, os.Args[2:])
	case "get":
		runGet(ctx, os.Args[2:])
	case "rm":
		runRm(ctx, os.Args[2:])
	case "ls":
		runLs(ctx, os.Args[2:])
	case "status":
		runStatus(ctx, os.Args[2:])
	case "diff":
		runDiff(ctx, os.Args[2:])
	case "audit":
		runAudit(ctx, os.Args[2:])
	case "destroy":
		runDestroy(ctx, os.Args[2:])
	case "keyring":
		runKeyring(ctx, os.Args[2:])
	case "compact":
		runCompact(ctx, os.Args[2:])
	case "completion":
		runCompletion(ctx, os.Args[2:])
	case "help", "-h", "--help":
		if len(os.Args) <= 2 {
			printUsage()
			return
		}
		printCommandHelp(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(_ context.Context, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Init()
}

func runStore(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	tag := fs.String("t", "", "Tag stored inside the encrypted index")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: deadbolt store [-t tag] <file>")
		os.Exit(1)
	}

	cmd.Store(ctx, fs.Arg(0), *tag)
}

func runGet(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: deadbolt get [-o file] <record-id>")
		os.Exit(1)
	}

	cmd.Get(ctx, fs.Arg(0), *out)
}

func runRm(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: deadbolt rm <record-id>")
		os.Exit(1)
	}

	cmd.Remove(ctx, fs.Arg(0))
}

func runLs(_ context.Context, args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.List()
}

func runStatus(_ context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Status()
}

func runDiff(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: deadbolt diff <record-id> <file>")
		os.Exit(1)
	}

	cmd.Diff(ctx, fs.Arg(0), fs.Arg(1))
}

func runAudit(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	category := fs.String("category", "", "Filter by category (crypto, security, storage, other)")
	severity := fs.String("severity", "", "Minimum severity (low, medium, high, critical)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Audit(ctx, *category, *severity)
}

func runDestroy(_ context.Context, args []string) {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	force := fs.Bool("force", false, "Skip the confirmation phrase")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Destroy(*force)
}

func runKeyring(_ context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: deadbolt keyring <save|delete|status>")
		os.Exit(1)
	}

	switch args[0] {
	case "save":
		cmd.KeyringSave()
	case "delete":
		cmd.KeyringDelete()
	case "status":
		cmd.KeyringStatus()
	default:
		fmt.Fprintf(os.Stderr, "Unknown keyring subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func runCompact(_ context.Context, args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cmd.Compact()
}

func runCompletion(_ context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: deadbolt completion <bash|zsh|fish>")
		os.Exit(1)
	}
	cmd.Completion(args[0])
}

func printUsage() {
	fmt.Println("deadbolt - duress-capable encrypted vault")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  deadbolt <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init        Create a vault with master, panic and decoy passwords")
	fmt.Println("  store       Encrypt a file into the vault")
	fmt.Println("  get         Decrypt a record to a file or stdout")
	fmt.Println("  rm          Secure-delete a record")
	fmt.Println("  ls          List records visible to your persona")
	fmt.Println("  status      Show vault status (no password)")
	fmt.Println("  diff        Compare a record against a local file")
	fmt.Println("  audit       Show readable audit entries")
	fmt.Println("  destroy     Destroy the master contents (irreversible)")
	fmt.Println("  keyring     Manage password in OS keyring")
	fmt.Println("  compact     Compact the catalog database")
	fmt.Println("  completion  Generate shell completions")
	fmt.Println("  help        Show help for a command")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  deadbolt init                   # Create new vault")
	fmt.Println("  deadbolt store secrets.txt      # Encrypt a file")
	fmt.Println("  deadbolt ls                     # List your records")
	fmt.Println("  deadbolt status                 # Check vault state")
	fmt.Println()
	fmt.Println("Use 'deadbolt help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "init":
		fmt.Println("deadbolt init")
		fmt.Println()
		fmt.Println("Creates a vault in ./.deadbolt (or $DEADBOLT_VAULT).")
		fmt.Println("Prompts for three distinct passwords:")
		fmt.Println("  master  opens your real records")
		fmt.Println("  panic   irreversibly destroys the real records when entered")
		fmt.Println("  decoy   opens a separate, harmless set of records")
		fmt.Println()
		fmt.Println("The passwords are not stored anywhere - you must remember them.")
	case "store":
		fmt.Println("deadbolt store [-t tag] <file>")
		fmt.Println()
		fmt.Println("Encrypts a file into the vault under your persona's scope.")
		fmt.Println("The tag (default: the file's base name) lives only inside the")
		fmt.Println("encrypted index; nothing identifying is visible on disk.")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  deadbolt store passport.pdf")
		fmt.Println("  deadbolt store notes.txt -t journal")
	case "get":
		fmt.Println("deadbolt get [-o file] <record-id>")
		fmt.Println()
		fmt.Println("Decrypts a record and writes it to the given file, or to stdout")
		fmt.Println("when no output file is given. Record IDs come from 'deadbolt ls'.")
	case "rm":
		fmt.Println("deadbolt rm <record-id>")
		fmt.Println()
		fmt.Println("Secure-deletes a record: the ciphertext on disk is overwritten")
		fmt.Println("with random data before the file is removed.")
	case "ls":
		fmt.Println("deadbolt ls")
		fmt.Println()
		fmt.Println("Lists the records visible to the persona you authenticate as.")
	case "status":
		fmt.Println("deadbolt status")
		fmt.Println()
		fmt.Println("Shows vault state: initialization, last modification, failed")
		fmt.Println("password attempts and the health score.")
		fmt.Println()
		fmt.Println("Does not require a password.")
	case "diff":
		fmt.Println("deadbolt diff <record-id> <file>")
		fmt.Println()
		fmt.Println("Compares a stored record against a local file and prints a")
		fmt.Println("unified diff. Binary content gets a one-line notice.")
	case "audit":
		fmt.Println("deadbolt audit [-category c] [-severity s]")
		fmt.Println()
		fmt.Println("Prints the audit entries readable under your persona's key.")
		fmt.Println("Entries written by other personas are skipped, not shown as")
		fmt.Println("garbage.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  -category   crypto, security, storage, other")
		fmt.Println("  -severity   minimum: low, medium, high, critical")
	case "destroy":
		fmt.Println("deadbolt destroy [-force]")
		fmt.Println()
		fmt.Println("Irreversibly destroys the master contents: all master records,")
		fmt.Println("the master index and the audit trail. Decoy records survive.")
		fmt.Println("Asks for the confirmation phrase unless -force is given.")
	case "keyring":
		fmt.Println("deadbolt keyring <save|delete|status>")
		fmt.Println()
		fmt.Println("Stores a vault password in the OS keyring, keyed by vault ID.")
		fmt.Println("The password is verified through normal classification first.")
	case "compact":
		fmt.Println("deadbolt compact")
		fmt.Println()
		fmt.Println("Compacts the catalog database to reclaim unused disk space.")
		fmt.Println("This is automatically done after destruction, but can be run")
		fmt.Println("manually if needed.")
		fmt.Println()
		fmt.Println("Does not require a password.")
	case "completion":
		fmt.Println("deadbolt completion <bash|zsh|fish>")
		fmt.Println()
		fmt.Println("Outputs shell completion script for the specified shell.")
		fmt.Println()
		fmt.Println("Setup:")
		fmt.Println("  # Bash - add to ~/.bashrc")
		fmt.Println("  eval \"$(deadbolt completion bash)\"")
		fmt.Println()
		fmt.Println("  # Zsh - add to ~/.zshrc")
		fmt.Println("  eval \"$(deadbolt completion zsh)\"")
		fmt.Println()
		fmt.Println("  # Fish - add to ~/.config/fish/config.fish")
		fmt.Println("  deadbolt completion fish | source")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
