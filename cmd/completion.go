package cmd

import (
	"fmt"
	"os"
)

// Completion outputs shell completion scripts
func Completion(shell string) {
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	default:
		fmt.Fprintf(os.Stderr, "Unknown shell: %s\nSupported: bash, zsh, fish\n", shell)
		os.Exit(1)
	}
}

const bashCompletion = `_deadbolt() {
    local cur prev words cword
    _init_completion || return

    local commands="init store get rm ls status diff audit destroy keyring compact help completion"

    if [[ $cword -eq 1 ]]; then
        COMPREPLY=($(compgen -W "$commands" -- "$cur"))
        return
    fi

    local cmd="${words[1]}"
    case "$cmd" in
        store)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "-t" -- "$cur"))
            else
                _filedir
            fi
            ;;
        get)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "-o" -- "$cur"))
            fi
            ;;
        audit)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "-category -severity" -- "$cur"))
            fi
            ;;
        destroy)
            COMPREPLY=($(compgen -W "-force" -- "$cur"))
            ;;
        keyring)
            COMPREPLY=($(compgen -W "save delete status" -- "$cur"))
            ;;
        help)
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "$cur"))
            ;;
    esac
}

complete -F _deadbolt deadbolt
`

const zshCompletion = `#compdef deadbolt

_deadbolt() {
    local -a commands
    commands=(
        'init:Create a vault with master, panic and decoy passwords'
        'store:Encrypt a file into the vault'
        'get:Decrypt a record to a file or stdout'
        'rm:Secure-delete a record'
        'ls:List records visible to your persona'
        'status:Show vault status (no password)'
        'diff:Compare a record against a local file'
        'audit:Show readable audit entries'
        'destroy:Destroy the master contents'
        'keyring:Manage password in OS keyring'
        'compact:Compact the catalog database'
        'help:Show help for a command'
        'completion:Generate shell completions'
    )

    _arguments -C \
        '1: :->command' \
        '*: :->args'

    case "$state" in
        command)
            _describe -t commands 'deadbolt commands' commands
            ;;
        args)
            case "${words[2]}" in
                store)
                    _arguments '-t[Tag stored inside the encrypted index]:tag' '*:file:_files'
                    ;;
                get)
                    _arguments '-o[Output file]:file:_files'
                    ;;
                diff)
                    _arguments '*:file:_files'
                    ;;
                audit)
                    _arguments \
                        '-category[Filter by category]:category:(crypto security storage other)' \
                        '-severity[Minimum severity]:severity:(low medium high critical)'
                    ;;
                destroy)
                    _arguments '-force[Skip the confirmation phrase]'
                    ;;
                keyring)
                    _values 'subcommand' save delete status
                    ;;
                help)
                    _describe -t commands 'deadbolt commands' commands
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
            esac
            ;;
    esac
}

_deadbolt "$@"
`

const fishCompletion = `# deadbolt fish completions

set -l commands init store get rm ls status diff audit destroy keyring compact help completion

complete -c deadbolt -f

# Commands
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a init -d 'Create a vault'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a store -d 'Encrypt a file into the vault'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a get -d 'Decrypt a record'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a rm -d 'Secure-delete a record'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a ls -d 'List records'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a status -d 'Show vault status'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a diff -d 'Compare record with local file'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a audit -d 'Show audit entries'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a destroy -d 'Destroy master contents'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a keyring -d 'Manage password in OS keyring'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a compact -d 'Compact the catalog'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a help -d 'Show help'
complete -c deadbolt -n "not __fish_seen_subcommand_from $commands" -a completion -d 'Generate completions'

# store flags and files
complete -c deadbolt -n "__fish_seen_subcommand_from store" -s t -d 'Tag stored inside the encrypted index'
complete -c deadbolt -n "__fish_seen_subcommand_from store" -F

# get flags
complete -c deadbolt -n "__fish_seen_subcommand_from get" -s o -d 'Output file'

# audit flags
complete -c deadbolt -n "__fish_seen_subcommand_from audit" -l category -d 'Filter by category'
complete -c deadbolt -n "__fish_seen_subcommand_from audit" -l severity -d 'Minimum severity'

# destroy flags
complete -c deadbolt -n "__fish_seen_subcommand_from destroy" -l force -d 'Skip confirmation'

# keyring subcommands
complete -c deadbolt -n "__fish_seen_subcommand_from keyring" -a "save delete status"

# help completions
complete -c deadbolt -n "__fish_seen_subcommand_from help" -a "$commands"

# completion completions
complete -c deadbolt -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`
