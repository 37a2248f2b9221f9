package statemachine

import (
	"fmt"

	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

// DisplayContext is the session data the Controller supplies for
// rendering the four-line display message of the state a Dispatch
// call is about to enter.
type DisplayContext struct {
	Role                types.Role
	Allowance           types.Volume
	Price               types.Price
	SelectedTank        types.TankNumber
	EnteredVolume       types.Volume
	CurrentVolume       types.Volume
	IntakeDirection     types.IntakeDirection
	InputBuffer         string
	DeviceSerial        string
	LastError           string
	AuthorizedFromCache bool
}

// GetDisplayMessage renders the four display lines for state, derived
// purely from ctx — no I/O, no hidden state, independently testable.
func GetDisplayMessage(state types.State, ctx DisplayContext) types.DisplayMessage {
	switch state {
	case types.Waiting:
		return types.DisplayMessage{
			Line1: "FuelFlux",
			Line2: "Присвойте карту",
			Line3: ctx.DeviceSerial,
			Line4: "",
		}
	case types.PinEntry:
		return types.DisplayMessage{
			Line1: "Введите PIN",
			Line2: maskedInput(ctx.InputBuffer),
			Line3: "",
			Line4: "B - отмена",
		}
	case types.Authorization:
		return types.DisplayMessage{
			Line1: "Авторизация...",
			Line2: "",
			Line3: "",
			Line4: "",
		}
	case types.NotAuthorized:
		return types.DisplayMessage{
			Line1: "Доступ запрещен",
			Line2: ctx.LastError,
			Line3: "",
			Line4: "B - продолжить",
		}
	case types.TankSelection:
		return types.DisplayMessage{
			Line1: "Выберите колонку",
			Line2: ctx.InputBuffer,
			Line3: fmt.Sprintf("Роль: %s", ctx.Role),
			Line4: "B - отмена",
		}
	case types.VolumeEntry:
		return types.DisplayMessage{
			Line1: fmt.Sprintf("Колонка %d", ctx.SelectedTank),
			Line2: fmt.Sprintf("Объем: %s", ctx.InputBuffer),
			Line3: fmt.Sprintf("Лимит: %.2f л", ctx.Allowance),
			Line4: "B - отмена",
		}
	case types.Refueling:
		return types.DisplayMessage{
			Line1: fmt.Sprintf("Заправка, колонка %d", ctx.SelectedTank),
			Line2: fmt.Sprintf("%.2f л", ctx.CurrentVolume),
			Line3: fmt.Sprintf("Цель: %.2f л", ctx.EnteredVolume),
			Line4: "B - стоп",
		}
	case types.RefuelDataTransmission:
		return types.DisplayMessage{
			Line1: "Передача данных...",
			Line2: fmt.Sprintf("%.2f л", ctx.CurrentVolume),
			Line3: "",
			Line4: "",
		}
	case types.RefuelingComplete:
		return types.DisplayMessage{
			Line1: "Заправка завершена",
			Line2: fmt.Sprintf("%.2f л", ctx.CurrentVolume),
			Line3: fmt.Sprintf("Остаток: %.2f л", ctx.Allowance),
			Line4: "Присвойте карту",
		}
	case types.IntakeDirectionSelection:
		return types.DisplayMessage{
			Line1: fmt.Sprintf("Колонка %d", ctx.SelectedTank),
			Line2: "1 - приход, 2 - расход",
			Line3: "",
			Line4: "B - отмена",
		}
	case types.IntakeVolumeEntry:
		return types.DisplayMessage{
			Line1: fmt.Sprintf("Направление: %s", ctx.IntakeDirection),
			Line2: fmt.Sprintf("Объем: %s", ctx.InputBuffer),
			Line3: "",
			Line4: "B - отмена",
		}
	case types.IntakeDataTransmission:
		return types.DisplayMessage{
			Line1: "Передача данных...",
			Line2: fmt.Sprintf("%.2f л", ctx.EnteredVolume),
			Line3: "",
			Line4: "",
		}
	case types.IntakeComplete:
		return types.DisplayMessage{
			Line1: "Операция завершена",
			Line2: fmt.Sprintf("%.2f л", ctx.EnteredVolume),
			Line3: "",
			Line4: "Присвойте карту",
		}
	case types.Error:
		return types.DisplayMessage{
			Line1: "Ошибка устройства",
			Line2: ctx.LastError,
			Line3: "",
			Line4: "B - перезапуск",
		}
	default:
		return types.DisplayMessage{Line1: state.String()}
	}
}

// maskedInput renders a PIN input buffer as asterisks so the actual
// digits never reach the display.
func maskedInput(buf string) string {
	masked := make([]byte, len(buf))
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked)
}
