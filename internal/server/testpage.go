package server

import (
	"fmt"
	"log"
	"net/http"
)

// TestPageHandler serves an HTML page for exercising the relay by hand.
// It can register or log in, connect with the returned token, join a
// conversation, send messages and raise typing indicators.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] {
            width: 200px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #typing { color: #666; font-style: italic; min-height: 1.2em; }
    </style>
</head>
<body>
    <h1>Room Relay Test</h1>

    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="text" id="email" placeholder="Email (register only)">
        <input type="password" id="password" placeholder="Password">
        <button onclick="account('register')">Register</button>
        <button onclick="account('login')">Login</button>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="room" placeholder="Conversation id" value="general">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button onclick="join()">Join</button>
        <button onclick="leave()">Leave</button>
    </div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="typing"></div>
    <div id="messages"></div>

    <script>
        let ws = null;
        let token = '';
        let user = null;
        let typingTimer = null;
        const typingUsers = new Set();
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const typingDiv = document.getElementById('typing');

        function room() {
            return document.getElementById('room').value.trim();
        }

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function renderTyping() {
            typingDiv.textContent = typingUsers.size ? Array.from(typingUsers).join(', ') + ' typing...' : '';
        }

        async function account(action) {
            const body = {
                username: document.getElementById('username').value,
                email: document.getElementById('email').value,
                password: document.getElementById('password').value
            };
            const res = await fetch('/api/auth/' + action, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body)
            });
            const data = await res.json();
            if (!res.ok) {
                addMessage(action + ' failed: ' + data.message);
                return;
            }
            token = data.token;
            user = data.user;
            addMessage('Signed in as ' + user.username);
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(token));

            ws.onopen = function() {
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                switch (frame.event) {
                case 'connect':
                    addMessage('Connected with session ' + frame.data.id);
                    break;
                case 'receive_message':
                    addMessage('[' + frame.data.createdAt + '] ' + frame.data.senderId + ': ' + frame.data.text, 'green');
                    break;
                case 'typing':
                    typingUsers.add(frame.data.userId);
                    renderTyping();
                    break;
                case 'stop_typing':
                    typingUsers.delete(frame.data.userId);
                    renderTyping();
                    break;
                }
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                typingUsers.clear();
                renderTyping();
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function join() {
            emit('join_conversation', room());
            addMessage('Joined ' + room());
        }

        function leave() {
            emit('leave_conversation', room());
            addMessage('Left ' + room());
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (!text) {
                return;
            }
            emit('send_message', { conversationId: room(), text: text, senderId: user ? user.username : '' });
            emit('stop_typing', { conversationId: room(), userId: user ? user.username : '' });
            messageInput.value = '';
        }

        messageInput.addEventListener('input', function() {
            emit('typing', { conversationId: room(), userId: user ? user.username : '' });
            clearTimeout(typingTimer);
            typingTimer = setTimeout(function() {
                emit('stop_typing', { conversationId: room(), userId: user ? user.username : '' });
            }, 2000);
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
