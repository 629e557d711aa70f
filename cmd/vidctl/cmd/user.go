package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vidqueue/internal/domain"
)

var validClasses = []domain.AccountClass{
	domain.ClassUnlimited,
	domain.ClassUltra,
	domain.ClassAdvance,
	domain.ClassPro,
	domain.ClassFree,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userClassCmd = &cobra.Command{
	Use:   "class [user_id] [class]",
	Short: "Change a user's account class",
	Long:  `Set the account class (UNLIMITED, ULTRA, ADVANCE, PRO, FREE) that decides concurrency, cooldown and credit exemption.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		class := domain.ParseAccountClass(args[1])
		if !knownClass(class) {
			return fmt.Errorf("unsupported class %q", args[1])
		}

		backend, closeFn, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		code, err := backend.SetClass(cmd.Context(), args[0], class)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("user %s not found", args[0])
		}
		if err != nil {
			return err
		}
		cmd.Printf("User %s (%s) is now %s\n", args[0], code, class)
		return nil
	},
}

var userTopUpCmd = &cobra.Command{
	Use:   "topup [user_id]",
	Short: "Add credits to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		monthly, _ := cmd.Flags().GetInt("monthly")
		extra, _ := cmd.Flags().GetInt("extra")
		if monthly < 0 || extra < 0 {
			return errors.New("credit amounts must not be negative")
		}
		if monthly == 0 && extra == 0 {
			return errors.New("nothing to add: use --monthly or --extra")
		}

		backend, closeFn, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		balance, err := backend.TopUp(cmd.Context(), args[0], monthly, extra)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("user %s not found", args[0])
		}
		if err != nil {
			return err
		}
		cmd.Printf("Balance for %s: monthly %d, extra %d (total %d)\n", args[0], balance.Monthly, balance.Extra, balance.Total())
		return nil
	},
}

func knownClass(c domain.AccountClass) bool {
	for _, v := range validClasses {
		if v == c {
			return true
		}
	}
	return false
}

func init() {
	userTopUpCmd.Flags().Int("monthly", 0, "credits to add to the monthly bucket")
	userTopUpCmd.Flags().Int("extra", 0, "credits to add to the extra bucket")

	userCmd.AddCommand(userClassCmd, userTopUpCmd)
	rootCmd.AddCommand(userCmd)
}
