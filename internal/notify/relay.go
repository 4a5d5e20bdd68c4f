package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenEvents — «живучая» подписка на Redis-канал событий для пассивных
// инстансов (консоль без авторитетного движка). Обрабатывает переподключения
// и разбор сообщений; каждое валидное событие уходит в onEvent.
func ListenEvents(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onEvent func(Event),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Error("invalid event payload", zap.Error(err))
					continue
				}
				onEvent(event)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
