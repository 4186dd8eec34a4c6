package services

import (
	"fmt"

	"github.com/ayeremenko/visa-tracker/models"
	"github.com/ayeremenko/visa-tracker/telegram"
)

// Callback actions understood by the conversation state machine. Per-item
// actions carry the reference number after the prefix.
const (
	callbackMainMenu    = "main"
	callbackAddTracking = "add_tracking"
	callbackAbout       = "about"

	callbackAppPrefix    = "app:"
	callbackCheckPrefix  = "check:"
	callbackDeletePrefix = "delete:"
)

// scene is one renderable step of the conversation: text plus an optional
// inline keyboard.
type scene struct {
	text     string
	keyboard *telegram.InlineKeyboardMarkup
}

var (
	cancelRow    = telegram.Row(telegram.Button("Отмена", callbackMainMenu))
	backToAddRow = telegram.Row(telegram.Button("Назад", callbackAddTracking))

	sceneAbout = scene{
		text: "Бот отслеживает статус заявки на визу в Испанию, поданной через BLS в Ереване.\n\n" +
			"Добавьте номер заявки (EVN...) и дату рождения — бот будет присылать текущий статус по запросу и раз в день.",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			telegram.Row(telegram.Button("Назад", callbackMainMenu)),
		}},
	}

	sceneInputReferenceNumber = scene{
		text: "Введите номер для отслеживания",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			cancelRow,
		}},
	}

	sceneIncorrectReferenceNumber = scene{
		text: "Некорректный формат номера для отслеживания. Попробуйте еще раз",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			cancelRow,
		}},
	}

	sceneInputDateOfBirth = scene{
		text: "Введите дату рождения в формате ДД.ММ.ГГГГ",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			backToAddRow,
			cancelRow,
		}},
	}

	sceneIncorrectDateOfBirth = scene{
		text: "Некорректный формат даты рождения. Попробуйте еще раз",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			backToAddRow,
			cancelRow,
		}},
	}

	sceneInputLabel = scene{
		text: "Введите название для заявки (до 30 символов), например имя заявителя",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			cancelRow,
		}},
	}

	sceneIncorrectLabel = scene{
		text: "Название слишком длинное. Введите до 30 символов",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			cancelRow,
		}},
	}

	sceneFetching = scene{
		text: "Получение статуса заявки... (это может занять до 30 секунд)",
	}
)

// resultKeyboard is attached to every fetch result so the user always has a
// way back to the main menu.
func resultKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		telegram.Row(telegram.Button("В меню", callbackMainMenu)),
	}}
}

// mainMenuScene lists the user's tracked applications as shortcuts to their
// per-application action menus.
func mainMenuScene(tracked []models.TrackedApplication) scene {
	rows := make([][]telegram.InlineKeyboardButton, 0, len(tracked)+2)
	for _, app := range tracked {
		rows = append(rows, telegram.Row(
			telegram.Button("📄 "+app.DisplayName(), callbackAppPrefix+app.ReferenceNumber),
		))
	}
	rows = append(rows,
		telegram.Row(telegram.Button("Добавить номер для отслеживания ➡️", callbackAddTracking)),
		telegram.Row(telegram.Button("О боте ℹ️", callbackAbout)),
	)
	return scene{
		text:     "Меню бота",
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: rows},
	}
}

// applicationMenuScene is the per-application action menu.
func applicationMenuScene(app models.TrackedApplication) scene {
	text := fmt.Sprintf("Заявка %s (%s)\nОтслеживается с %s",
		app.DisplayName(), app.ReferenceNumber, app.AddedAt.Local().Format("02.01.2006"))
	return scene{
		text: text,
		keyboard: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
			telegram.Row(telegram.Button("Проверить статус 🔄", callbackCheckPrefix+app.ReferenceNumber)),
			telegram.Row(telegram.Button("Удалить ❌", callbackDeletePrefix+app.ReferenceNumber)),
			telegram.Row(telegram.Button("Назад", callbackMainMenu)),
		}},
	}
}

func limitReachedText(limit int) string {
	return fmt.Sprintf("Можно отслеживать не более %d заявок. Удалите одну из существующих, чтобы добавить новую", limit)
}

// ExpiryNoticeText is sent when an application ages out of the sweep.
func ExpiryNoticeText(referenceNumber string, days int) string {
	return fmt.Sprintf("Заявка %s отслеживалась более %d дней и была удалена из списка", referenceNumber, days)
}
