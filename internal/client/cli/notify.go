package cli

import (
	"fmt"
	"os"

	"github.com/saytro/saytro/internal/client/models"
)

// BellNotifier signals an incoming message with the terminal bell.
type BellNotifier struct{}

func (BellNotifier) Notify(models.Message) error {
	_, err := fmt.Fprint(os.Stdout, "\a")
	return err
}
